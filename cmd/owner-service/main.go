// Command owner-service follows hotel-bookings and serves the hotel
// projection to property owners.
package main

import (
	"context"
	"log"

	"github.com/drblury/tripflow/internal/app"
	"github.com/drblury/tripflow/internal/runtime/config"
)

func main() {
	cfg, err := config.Load(config.RoleOwner)
	if err != nil {
		log.Fatal(err)
	}
	if err := app.Run(context.Background(), cfg, config.RoleOwner); err != nil {
		log.Fatal(err)
	}
}
