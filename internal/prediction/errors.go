package prediction

import "fmt"

// Stages of a prediction request, in order
const (
	StageFetchProperty    = "fetch_property"
	StageLoadArtifacts    = "load_artifacts"
	StageAssembleFeatures = "assemble_features"
	StagePredict          = "predict"
	StageEnsembleBlend    = "ensemble_blend"
	StageExplain          = "explain"
)

// PredictionError is any failure after the property was resolved, or a
// store failure while resolving it. The cause is kept for logging.
type PredictionError struct {
	PropertyID int64
	Stage      string
	Err        error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("prediction for property %d failed at %s: %v", e.PropertyID, e.Stage, e.Err)
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}
