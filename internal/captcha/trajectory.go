package captcha

import (
	"math"
	"math/rand"
)

// trajectory time step, seconds.
const stepInterval = 0.2

// Trajectory synthesizes a human-like drag track for the given distance:
// acceleration up to a randomized 60-80% of the distance, deceleration after.
// The returned steps are each at least 1 and sum exactly to distance.
func Trajectory(distance int) []int {
	if distance <= 0 {
		return nil
	}

	var (
		track     []int
		travelled int
		v         float64
	)
	turn := float64(distance) * (0.6 + rand.Float64()*0.2)

	for travelled < distance {
		a := 2 + rand.Float64()*2
		if float64(travelled) >= turn {
			a = -(3 + rand.Float64()*2)
		}
		v0 := v
		v = math.Max(v0+a*stepInterval, 0)

		move := v0*stepInterval + 0.5*a*stepInterval*stepInterval
		step := int(math.Round(move))
		if step < 1 {
			step = 1
		}
		if remaining := distance - travelled; step > remaining {
			step = remaining
		}
		travelled += step
		track = append(track, step)
	}
	return track
}
