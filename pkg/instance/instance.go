package instance

import "github.com/angelmondragon/kitchenshare-backend/pkg/env"

// GetID returns the process instance identifier. Heroku's DYNO is used when
// no explicit id is set.
func GetID() string {
	return env.First("local", "KITCHENSHARE_INSTANCE_ID", "DYNO")
}
