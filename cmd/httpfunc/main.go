// Command httpfunc is the API Gateway entry point for the user-profile service.
package main

import (
	"log"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/hatsunemiku3939/lambdapipe/internal/profiles"
	"github.com/hatsunemiku3939/lambdapipe/pkg/settings"
	"github.com/hatsunemiku3939/lambdapipe/pkg/validate"
)

func main() {
	s, err := settings.Load(os.Getenv)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	svc := profiles.NewService(profiles.NewStore(), lambdapipe.DefaultLogger())
	opts := append(s.HTTPOptions(), lambdapipe.WithValidator(validate.Struct[profiles.UserProfile]()))
	lambdapipe.NewHTTPHandler(svc.Create, opts...).Start()
}
