package features

import "math/rand"

//SyntheticTable draws n uniform observations: steps in [3000, 12000), heart rate in [50, 100),
//sleep hours in [4, 9) and a target in [0, 100). The target is unrelated to the signals.
func SyntheticTable(n int, seed int64) Table {
	rng := rand.New(rand.NewSource(seed))
	observations := make([]Observation, n)
	for p := range observations {
		observations[p] = Observation{
			Steps:        3000 + rng.Intn(9000),
			HeartRate:    float64(50 + rng.Intn(50)),
			SleepHours:   4 + 5*rng.Float64(),
			TargetMetric: 100 * rng.Float64(),
		}
	}
	return NewTable(observations)
}
