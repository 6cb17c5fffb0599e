package mcp

import (
	"encoding/json"

	"github.com/atelierhq/atelier/pkg/models"
)

func schema(s string) json.RawMessage { return json.RawMessage(s) }

// Catalog returns the built-in tool catalog. Server fields name logical
// servers; the registry binds them to configured endpoints at startup.
// Tools that a deployment's servers do not expose are simply never
// bound and drop out of selection.
func Catalog() []models.ToolDefinition {
	return []models.ToolDefinition{
		{
			Name:        "web_search",
			Description: "Search the web for current information and return a text summary of the results.",
			Parameters:  schema(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
			Keywords:    []string{"search", "google", "look up", "find out", "news"},
			Server:      "research",
			Tool:        "web_search",
		},
		{
			Name:        "reason_with_f16",
			Description: "Delegate a hard question to a larger local reasoning model and return its answer.",
			Parameters:  schema(`{"type":"object","properties":{"query":{"type":"string"},"context":{"type":"string"}},"required":["query"]}`),
			Keywords:    []string{"think hard", "reason", "analyze", "prove"},
			Server:      "research",
			Tool:        "reason_with_f16",
		},
		{
			Name:        "generate_cad_model",
			Description: "Generate a printable CAD model from a text prompt and optional reference images.",
			Parameters:  schema(`{"type":"object","properties":{"prompt":{"type":"string"},"references":{"type":"array","items":{"type":"string"}},"image_refs":{"type":"array","items":{"type":"string"}},"mode":{"type":"string"}},"required":["prompt"]}`),
			Keywords:    []string{"cad", "model", "design", "stl", "3d model"},
			Server:      "fabrication",
			Tool:        "generate_cad_model",
		},
		{
			Name:        "image_search",
			Description: "Search for reference images matching a query.",
			Parameters:  schema(`{"type":"object","properties":{"query":{"type":"string"},"max_results":{"type":"integer","default":8}},"required":["query"]}`),
			Keywords:    []string{"image", "picture", "photo", "reference"},
			Server:      "vision",
			Tool:        "image_search",
		},
		{
			Name:        "image_filter",
			Description: "Score candidate images against a query and drop low-relevance matches.",
			Parameters:  schema(`{"type":"object","properties":{"query":{"type":"string"},"images":{"type":"array"},"min_score":{"type":"number","default":0.35}},"required":["query","images"]}`),
			Server:      "vision",
			Tool:        "image_filter",
		},
		{
			Name:        "store_selection",
			Description: "Persist a set of selected images under a session for later reuse.",
			Parameters:  schema(`{"type":"object","properties":{"session_id":{"type":"string"},"images":{"type":"array"}},"required":["session_id","images"]}`),
			Server:      "vision",
			Tool:        "store_selection",
		},
		{
			Name:        "control_device",
			Description: "Turn a smart home device on or off or set an attribute on it.",
			Parameters:  schema(`{"type":"object","properties":{"entity_id":{"type":"string"},"action":{"type":"string"},"value":{"type":"string"}},"required":["entity_id","action"]}`),
			Keywords:    []string{"turn on", "turn off", "light", "switch", "thermostat", "device"},
			Server:      "home",
			Tool:        "control_device",
		},
		{
			Name:        "get_entity_state",
			Description: "Read the current state of a smart home entity.",
			Parameters:  schema(`{"type":"object","properties":{"entity_id":{"type":"string"}},"required":["entity_id"]}`),
			Keywords:    []string{"state", "status", "temperature", "is the"},
			Server:      "home",
			Tool:        "get_entity_state",
		},
		{
			Name:        "list_entities",
			Description: "List smart home entities, optionally filtered by domain.",
			Parameters:  schema(`{"type":"object","properties":{"domain":{"type":"string"}}}`),
			Keywords:    []string{"entities", "devices", "what can you control"},
			Server:      "home",
			Tool:        "list_entities",
		},
		{
			Name:        "store_memory",
			Description: "Store a fact about the user or the workshop for later recall.",
			Parameters:  schema(`{"type":"object","properties":{"content":{"type":"string"},"tags":{"type":"array","items":{"type":"string"}}},"required":["content"]}`),
			Keywords:    []string{"remember", "note that", "don't forget"},
			Server:      "memory",
			Tool:        "store_memory",
		},
		{
			Name:        "recall_memory",
			Description: "Search stored memories by semantic similarity.",
			Parameters:  schema(`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer","default":5}},"required":["query"]}`),
			Keywords:    []string{"recall", "what did i", "do you remember"},
			Server:      "memory",
			Tool:        "recall_memory",
		},
		{
			Name:        "delete_memory",
			Description: "Delete a stored memory by id.",
			Parameters:  schema(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Keywords:    []string{"forget"},
			Server:      "memory",
			Tool:        "delete_memory",
		},
		{
			Name:        "segment_mesh",
			Description: "Segment a mesh into printable parts that fit a printer's build volume.",
			Parameters:  schema(`{"type":"object","properties":{"file":{"type":"string"},"printer_id":{"type":"string"}},"required":["file"]}`),
			Keywords:    []string{"segment", "split", "mesh", "too big"},
			Server:      "fabrication",
			Tool:        "segment_mesh",
		},
		{
			Name:        "check_segmentation",
			Description: "Check the progress or result of a mesh segmentation run.",
			Parameters:  schema(`{"type":"object","properties":{"job_id":{"type":"string"}},"required":["job_id"]}`),
			Server:      "fabrication",
			Tool:        "check_segmentation",
		},
		{
			Name:        "list_printers",
			Description: "List registered printers with their status and loaded material.",
			Parameters:  schema(`{"type":"object","properties":{}}`),
			Keywords:    []string{"printers", "printer status", "which printer"},
			Server:      "fabrication",
			Tool:        "list_printers",
		},
		{
			Name:        "execute_command",
			Description: "Execute a named broker command with arguments.",
			Parameters:  schema(`{"type":"object","properties":{"command":{"type":"string"},"args":{"type":"object"}},"required":["command"]}`),
			Keywords:    []string{"run", "execute", "command"},
			Server:      "broker",
			Tool:        "execute_command",
		},
		{
			Name:        "list_commands",
			Description: "List broker commands available for execution.",
			Parameters:  schema(`{"type":"object","properties":{}}`),
			Keywords:    []string{"commands", "what can you run"},
			Server:      "broker",
			Tool:        "list_commands",
		},
		{
			Name:        "discover_devices",
			Description: "Scan the local network for new controllable devices.",
			Parameters:  schema(`{"type":"object","properties":{"timeout_seconds":{"type":"integer","default":10}}}`),
			Keywords:    []string{"discover", "scan", "new device"},
			Server:      "discovery",
			Tool:        "discover_devices",
		},
		{
			Name:                 "approve_device",
			Description:          "Approve a discovered device so it can be controlled.",
			Parameters:           schema(`{"type":"object","properties":{"device_id":{"type":"string"}},"required":["device_id"]}`),
			Server:               "discovery",
			Tool:                 "approve_device",
			RequiresConfirmation: true,
		},
		{
			Name:        "fetch_webpage",
			Description: "Fetch a web page and return its readable text content.",
			Parameters:  schema(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`),
			Keywords:    []string{"fetch", "read page", "url", "link"},
			Server:      "research",
			Tool:        "fetch_webpage",
		},
		{
			Name:        "get_citations",
			Description: "Return source citations for the most recent research answer.",
			Parameters:  schema(`{"type":"object","properties":{}}`),
			Keywords:    []string{"citations", "sources", "where did"},
			Server:      "research",
			Tool:        "get_citations",
		},
		{
			Name:        "deep_research",
			Description: "Run a multi-step paid research pass over web sources and synthesize a report.",
			Parameters:  schema(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
			Keywords:    []string{"deep research", "thorough report"},
			Paid:        true,
			Server:      "research",
			Tool:        "deep_research",
		},
		{
			Name:                 "lock.unlock",
			Description:          "Unlock a physical lock in the workshop.",
			Parameters:           schema(`{"type":"object","properties":{"entity_id":{"type":"string"}},"required":["entity_id"]}`),
			Keywords:             []string{"unlock", "open the lock"},
			Server:               "home",
			Tool:                 "lock.unlock",
			RequiresConfirmation: true,
		},
		{
			Name:                 "power.enable",
			Description:          "Enable mains power to a high-current workshop circuit.",
			Parameters:           schema(`{"type":"object","properties":{"circuit":{"type":"string"}},"required":["circuit"]}`),
			Keywords:             []string{"enable power", "power on the", "mains"},
			Server:               "home",
			Tool:                 "power.enable",
			RequiresConfirmation: true,
		},
	}
}
