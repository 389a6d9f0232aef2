// Package agenthub provides a multi-tenant request-routing and RAG pipeline
// for conversational platforms.
//
// AgentHub turns one inbound user message into a grounded, attributed answer:
// an intent router classifies the message against the tenant's enabled agents,
// domain agent executors run the selected agents' tools in priority order,
// the retrieval engine ranks tenant-scoped knowledge chunks, and the LLM
// gateway produces the final answer. Tenant isolation is enforced at every
// stage.
//
// # Quick Start
//
// Install AgentHub:
//
//	go install github.com/kadirpekel/agenthub/cmd/agenthub@latest
//
// Create a configuration:
//
//	agents:
//	  billing:
//	    name: "BillingAgent"
//	    llm: "gpt-4o"
//	    prompt_template: "You answer billing questions for {tenant}."
//	    tools:
//	      - id: kb_search
//	        priority: 1
//
//	tools:
//	  kb_search:
//	    kind: retrieval
//	    retrieval:
//	      top_k: 5
//	      min_similarity: 0.7
//
//	llms:
//	  gpt-4o:
//	    type: "openai"
//	    model: "gpt-4o-mini"
//	    api_key: "${OPENAI_API_KEY}"
//
// Start the server:
//
//	agenthub serve --config agenthub.yaml
//
// # Using as Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/kadirpekel/agenthub/pkg/pipeline"
//	    "github.com/kadirpekel/agenthub/pkg/rag"
//	    "github.com/kadirpekel/agenthub/pkg/config"
//	)
//
// # Architecture
//
//	Chat Endpoint → Intent Router → Domain Agent Executor(s) → Tool Layer
//	             → Retrieval Engine / remote calls → LLM Gateway → answer
//
// Configuration (agents, tools, tenant permissions) is held as an immutable
// snapshot and refreshed only by an atomic reload.
//
// # License
//
// AGPL-3.0 - See LICENSE.md for details.
package agenthub
