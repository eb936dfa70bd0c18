// Package profiles is the user-profile domain served by the binaries under cmd/.
package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/hatsunemiku3939/lambdapipe/router"
	"github.com/hatsunemiku3939/lambdapipe/types"
)

const (
	MsgTypeUpdateUserProfile = "updateUserProfile"
	MsgVersion1_0            = "1.0"
)

// UserProfileSchema validates the payload of an updateUserProfile message.
var UserProfileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "userId": { "type": "string", "minLength": 1 },
    "username": { "type": "string", "minLength": 1 },
    "email": { "type": "string", "format": "email" }
  },
  "required": ["userId", "username", "email"]
}`

var ErrNotFound = errors.New("profile not found")

// UserProfile is the stored profile and the updateUserProfile message payload.
type UserProfile struct {
	UserID   string `json:"userId" validate:"required"`
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
}

// Store keeps profiles in memory.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]UserProfile
}

func NewStore() *Store {
	return &Store{profiles: make(map[string]UserProfile)}
}

// Put inserts or replaces a profile.
func (s *Store) Put(_ context.Context, p UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

func (s *Store) Get(_ context.Context, userID string) (UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return UserProfile{}, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return p, nil
}

// Service exposes the store to both entry points.
type Service struct {
	store  *Store
	logger lambdapipe.Logger
}

func NewService(store *Store, logger lambdapipe.Logger) *Service {
	if logger == nil {
		logger = lambdapipe.DefaultLogger()
	}
	return &Service{store: store, logger: logger}
}

// Create handles POST /users.
func (s *Service) Create(ctx context.Context, in lambdapipe.Input[UserProfile]) (lambdapipe.Result, error) {
	if _, err := s.store.Get(ctx, in.Payload.UserID); err == nil {
		return lambdapipe.Result{}, lambdapipe.NewHTTPError(http.StatusConflict, "Profile already exists").
			WithData(map[string]string{"userId": in.Payload.UserID})
	}
	s.store.Put(ctx, in.Payload)
	return lambdapipe.Respond(lambdapipe.Response{
		StatusCode: http.StatusCreated,
		Headers:    map[string]string{"Location": "/users/" + in.Payload.UserID},
		Body:       in.Payload,
	}), nil
}

// Fetch handles GET /users/{userId}.
func (s *Service) Fetch(ctx context.Context, in lambdapipe.Input[struct{}]) (lambdapipe.Result, error) {
	id := in.Event.PathParameters["userId"]
	p, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return lambdapipe.Result{}, lambdapipe.NotFound("Profile not found")
	}
	if err != nil {
		return lambdapipe.Result{}, err
	}
	return lambdapipe.Raw(p), nil
}

// Replace handles PUT /users/{userId}. The payload must name the same user as the path.
func (s *Service) Replace(ctx context.Context, in lambdapipe.Input[UserProfile]) (lambdapipe.Result, error) {
	id := in.Event.PathParameters["userId"]
	if in.Payload.UserID != id {
		return lambdapipe.Result{}, lambdapipe.Unprocessable("userId does not match the path").
			WithData(map[string]string{"path": id, "body": in.Payload.UserID})
	}
	s.store.Put(ctx, in.Payload)
	return lambdapipe.Respond(lambdapipe.Response{StatusCode: http.StatusNoContent}), nil
}

// UpdateV1 is the router handler for updateUserProfile 1.0.
func (s *Service) UpdateV1(ctx context.Context, messageJSON []byte, _ []byte) router.HandlerResult {
	var msg UserProfile
	if err := json.Unmarshal(messageJSON, &msg); err != nil {
		// The payload schema already passed, so this is permanent.
		return router.HandlerResult{Action: types.Delete, Error: fmt.Errorf("failed to unmarshal user profile message: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		s.logger.Warn(fmt.Sprintf("processing canceled for user %s: %v", msg.UserID, err))
		return router.HandlerResult{Action: types.DeadLetter, Error: err}
	}

	s.logger.Log(fmt.Sprintf("⚙️  Processing user update for %s (ID: %s)", msg.Username, msg.UserID))
	s.store.Put(ctx, msg)
	return router.HandlerResult{Action: types.Delete}
}

// Register installs the profile handlers and schemas on r.
func (s *Service) Register(r *router.Router) error {
	r.Register(MsgTypeUpdateUserProfile, MsgVersion1_0, s.UpdateV1)
	if err := r.RegisterSchema(MsgTypeUpdateUserProfile, MsgVersion1_0, UserProfileSchema); err != nil {
		return fmt.Errorf("could not register schema: %w", err)
	}
	return nil
}
