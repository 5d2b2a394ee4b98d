package instance

import "github.com/angelmondragon/storefront/pkg/env"

// GetID returns the process instance identifier used to tag log lines.
func GetID() string {
	return env.First("local", "STOREFRONT_INSTANCE_ID", "DYNO")
}
