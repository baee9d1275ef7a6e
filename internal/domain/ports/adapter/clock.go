package adapter

import "time"

// Clock abstracts time.Now so queue and cache timing can be driven in tests.
type Clock interface {
	Now() time.Time
}
