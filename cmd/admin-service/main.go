// Command admin-service follows flight-bookings and serves the flight
// projection to the admin dashboard.
package main

import (
	"context"
	"log"

	"github.com/drblury/tripflow/internal/app"
	"github.com/drblury/tripflow/internal/runtime/config"
)

func main() {
	cfg, err := config.Load(config.RoleAdmin)
	if err != nil {
		log.Fatal(err)
	}
	if err := app.Run(context.Background(), cfg, config.RoleAdmin); err != nil {
		log.Fatal(err)
	}
}
