package observability

const (
	AttrServiceName     = "service.name"
	AttrServiceVersion  = "service.version"
	AttrTenantID        = "tenant.id"
	AttrAgentName       = "agent.name"
	AttrToolName        = "tool.name"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrErrorType       = "error.type"
	AttrStatusCode      = "http.status_code"

	SpanPipelineTurn  = "pipeline.turn"
	SpanRouting       = "pipeline.routing"
	SpanAgentCall     = "pipeline.agent_call"
	SpanLLMRequest    = "pipeline.llm_request"
	SpanToolExecution = "pipeline.tool_execution"
	SpanRetrieval     = "pipeline.retrieval"

	DefaultServiceName = "agenthub"
)
