package service

// Estimator derives queue position and wait time from the inflight count.
// AverageJobSeconds is a fixed operator setting, not a measured average.
type Estimator struct {
	Ceiling           int
	AverageJobSeconds int
}

func NewEstimator(ceiling, averageJobSeconds int) Estimator {
	if ceiling < 1 {
		ceiling = 1
	}
	if averageJobSeconds < 0 {
		averageJobSeconds = 0
	}
	return Estimator{Ceiling: ceiling, AverageJobSeconds: averageJobSeconds}
}

// Estimate returns position = inflight+1 and eta = ceil(position/ceiling) * average.
func (e Estimator) Estimate(inflight int) (position, etaSeconds int) {
	if inflight < 0 {
		inflight = 0
	}
	ceiling := e.Ceiling
	if ceiling < 1 {
		ceiling = 1
	}
	position = inflight + 1
	batches := (position + ceiling - 1) / ceiling
	return position, batches * e.AverageJobSeconds
}
