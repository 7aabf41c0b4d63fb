package domain

// KalmanState is the scalar local-level filter state owned by C3. Q and R are
// recomputed per call from the series' current volatility/volume trend, so
// the filter is functionally stateless across calls unless the caller opts
// into persistence via Reset/SetParams.
type KalmanState struct {
	X float64 // estimate
	P float64 // estimate covariance
	Q float64 // process noise
	R float64 // measurement noise
}

// KalmanPrediction is C3's output: a point forecast plus calibration measures.
type KalmanPrediction struct {
	PredictedPrice float64
	Confidence     float64
	Trend          TrendLabel
	Accuracy       float64
	Timeframe      string
}
