package constants

// SourceKind is the kind of raw input a source carries.
type SourceKind string

const (
	SourceImage SourceKind = "image"
	SourceURL   SourceKind = "url"
	SourceText  SourceKind = "text"
)

// SourceKinds holds the allowed values for ingestion_source.kind.
var SourceKinds = []string{string(SourceImage), string(SourceURL), string(SourceText)}

// SourceOrigin records how a source entered the system.
type SourceOrigin string

const (
	OriginUpload SourceOrigin = "upload"
	OriginEmail  SourceOrigin = "email"
	OriginAPI    SourceOrigin = "api"
	OriginFolder SourceOrigin = "folder"
	OriginPaired SourceOrigin = "paired"
)

// SourceOrigins holds the allowed values for ingestion_source.origin.
var SourceOrigins = []string{
	string(OriginUpload), string(OriginEmail), string(OriginAPI), string(OriginFolder), string(OriginPaired),
}

// ParseSourceKind maps loose user input onto a SourceKind.
func ParseSourceKind(s string) (SourceKind, bool) {
	switch SourceKind(s) {
	case SourceImage, SourceURL, SourceText:
		return SourceKind(s), true
	case "photo", "picture":
		return SourceImage, true
	case "web", "link":
		return SourceURL, true
	}
	return "", false
}

// LogOutcome is the outcome recorded on a processing_log row.
type LogOutcome string

const (
	OutcomeOK      LogOutcome = "ok"
	OutcomeWarning LogOutcome = "warning"
	OutcomeError   LogOutcome = "error"
)

// ExtractedRecipeStatus tracks what happened to a candidate recipe.
type ExtractedRecipeStatus string

const (
	RecipePending   ExtractedRecipeStatus = "pending"
	RecipeSaved     ExtractedRecipeStatus = "saved"
	RecipeDuplicate ExtractedRecipeStatus = "duplicate"
	RecipeFailed    ExtractedRecipeStatus = "failed"
	RecipeDiscarded ExtractedRecipeStatus = "discarded"
)

// Source statuses stored on ingestion_source.status.
const (
	SourcePending    = "pending"
	SourceProcessing = "processing"
	SourceProcessed  = "processed"
	SourceFailed     = "failed"
)
