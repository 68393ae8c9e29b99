package core

// Hook names. Each is a distinct extension point; handlers registered
// under a name run in priority order and may transform the payload
// documented next to it.
const (
	// Bootstrap lifecycle. No payload.
	HookBeforeBootstrap = "before_cat_bootstrap"
	HookAfterBootstrap  = "after_cat_bootstrap"

	// Pipeline. Payload: UserMessage -> UserMessage.
	HookBeforeReadsMessage = "before_cat_reads_message"

	// Recall. cat_recall_query: string -> string. The per-tier hooks
	// receive and return that tier's RecallConfig. The before/after
	// pair carries no payload and exists for side effects on working
	// memory.
	HookRecallQuery                  = "cat_recall_query"
	HookBeforeRecallsMemories        = "before_cat_recalls_memories"
	HookBeforeRecallsEpisodic        = "before_cat_recalls_episodic_memories"
	HookBeforeRecallsDeclarative     = "before_cat_recalls_declarative_memories"
	HookBeforeRecallsProcedural      = "before_cat_recalls_procedural_memories"
	HookAfterRecallsMemories         = "after_cat_recalls_memories"

	// Egress. Payload: StructuredOutput -> StructuredOutput.
	HookBeforeSendsMessage = "before_cat_sends_message"

	// Notification-only: the registry signals that the plugin set
	// changed and the tool index must be resynced.
	HookOnFinishPluginsSync = "on_finish_plugins_sync"
)
