package captcha

import "testing"

func TestTrajectorySumsExactly(t *testing.T) {
	for _, distance := range []int{1, 2, 5, 17, 76, 138, 276, 500} {
		for trial := 0; trial < 50; trial++ {
			track := Trajectory(distance)
			if len(track) == 0 {
				t.Fatalf("distance %d: empty track", distance)
			}
			sum := 0
			for i, step := range track {
				if step < 1 {
					t.Fatalf("distance %d: step %d is %d, want >= 1", distance, i, step)
				}
				sum += step
			}
			if sum != distance {
				t.Fatalf("distance %d: track sums to %d", distance, sum)
			}
		}
	}
}

func TestTrajectoryNonPositiveDistance(t *testing.T) {
	if track := Trajectory(0); track != nil {
		t.Fatalf("expected nil track for 0, got %v", track)
	}
	if track := Trajectory(-5); track != nil {
		t.Fatalf("expected nil track for negative distance, got %v", track)
	}
}
