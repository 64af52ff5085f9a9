package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Fatal           bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrMissingSource: {
		Code:            ErrMissingSource,
		Fatal:           true,
		Description:     "A required raw input or upstream table is absent",
		SuggestedAction: "Place the raw files under paths.raw_dir or run the upstream stage: bookpipe stage <name>",
	},
	ErrMalformedField: {
		Code:            ErrMalformedField,
		Fatal:           false,
		Description:     "A field failed parsing and was nulled or defaulted",
		SuggestedAction: "No action needed; see the stage counters in the stage_stats table",
	},
	ErrInsufficientSupport: {
		Code:            ErrInsufficientSupport,
		Fatal:           false,
		Description:     "An aggregate fell below its minimum support threshold and was omitted",
		SuggestedAction: "No action needed; adjust rules.min_support to change the threshold",
	},
	ErrJoinAmbiguity: {
		Code:            ErrJoinAmbiguity,
		Fatal:           true,
		Description:     "An identity key appeared more than once on one side of the join",
		SuggestedAction: "Re-run the catalog and ratings stages; duplicated keys indicate a corrupted upstream table",
	},
	ErrContextCancelled: {
		Code:            ErrContextCancelled,
		Fatal:           true,
		Description:     "Run aborted by user or signal",
		SuggestedAction: "Re-run the pipeline from the start: bookpipe run",
	},
	ErrProcessingError: {
		Code:            ErrProcessingError,
		Fatal:           true,
		Description:     "Unclassified processing error",
		SuggestedAction: "Re-run with --debug and inspect the logs",
	},
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Re-run with --debug and inspect the logs"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
