package workflow

// Store key prefixes
const (
	// PrefixWorkflow is used for registered workflow definitions
	PrefixWorkflow = "workflow:"

	// PrefixStage is used for per-instance stage overrides and stage status
	PrefixStage = "stage:"
)

// Tags attached to store metadata
const (
	// TagBuiltin marks definitions shipped with the engine
	TagBuiltin = "builtin"

	// TagAI marks definitions or stages authored by an AI agent
	TagAI = "ai"

	// TagDynamic marks stages created or changed by a modification
	TagDynamic = "dynamic"
)

// Property keys used in store metadata
const (
	// PropCreatedBy tracks who/what created an entity
	PropCreatedBy = "createdBy"

	// PropPriority mirrors the definition priority
	PropPriority = "priority"

	// PropStageCount is the number of stages in a definition
	PropStageCount = "stageCount"

	// PropStatus tracks the status of a stage within an instance
	PropStatus = "status"

	// PropModification records the id of the modification that produced an override
	PropModification = "modification"
)

// Stage status values recorded under PropStatus
const (
	StageStatusPending   = "pending"
	StageStatusRunning   = "running"
	StageStatusCompleted = "completed"
	StageStatusSkipped   = "skipped"
)

// Creators recognised in DefinitionMetadata.CreatedBy
const (
	CreatedBySystem = "system"
	CreatedByUser   = "user"
	CreatedByAI     = "ai"
)

// Default next actions attached to a successful result
var defaultNextActions = []string{"review_results", "start_implementation"}

// formHandleSuffix marks the stageData entries holding render handles.
const formHandleSuffix = "_formHandle"
