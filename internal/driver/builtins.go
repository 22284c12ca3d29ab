package driver

// Shared transient failure signatures. Individual drivers extend these with
// family-specific messages.
var commonNetworkSignatures = []string{
	"connection refused",
	"connection reset",
	"network is unreachable",
	"timeout",
	"timed out",
	"temporary failure in name resolution",
	"econnreset",
	"etimedout",
	"rate limit",
	"overloaded_error",
	"503",
	"529",
}

// builtins returns the driver definitions for every supported agent family.
func builtins() []*Driver {
	return []*Driver{
		{
			Name:    "claude",
			Command: "claude",
			DefaultArgs: []string{
				"--output-format", "stream-json",
				"--print",
				"--verbose",
				"--dangerously-skip-permissions",
			},
			PromptArgs:      []string{"-p"},
			ModelArg:        "--model",
			SupportsResume:  true,
			ResumeTokens:    []string{"--resume"},
			SessionIDFields: []string{"session_id"},
			CostFields:      []string{"total_cost_usd", "cost_usd"},
			PermissionSignatures: []string{
				"permission denied",
				"insufficient permissions",
				"credit balance is too low",
				"oauth token revoked",
				"please run /login",
			},
			NetworkSignatures: commonNetworkSignatures,
		},
		{
			Name:            "cursor-agent",
			Command:         "cursor-agent",
			DefaultArgs:     []string{"--output-format", "stream-json", "--force"},
			PromptArgs:      []string{"-p"},
			ModelArg:        "--model",
			SupportsResume:  true,
			ResumeTokens:    []string{"--resume"},
			SessionIDFields: []string{"session_id", "chat_id"},
			CostFields:      []string{"cost_usd"},
			PermissionSignatures: []string{
				"permission denied",
				"not authenticated",
				"please sign in",
			},
			NetworkSignatures: commonNetworkSignatures,
		},
		{
			Name:            "opencode",
			Command:         "opencode",
			DefaultArgs:     []string{"run", "--print-logs", "--format", "json"},
			PromptArgs:      nil, // positional prompt
			ModelArg:        "--model",
			SupportsResume:  true,
			ResumeTokens:    []string{"--session"},
			SessionIDFields: []string{"sessionID", "session_id"},
			CostFields:      []string{"cost"},
			PermissionSignatures: []string{
				"permission denied",
				"unauthorized",
				"no credentials",
			},
			NetworkSignatures: commonNetworkSignatures,
		},
		{
			Name:            "amp",
			Command:         "amp",
			DefaultArgs:     []string{"--execute", "--stream-json"},
			PromptArgs:      nil, // positional prompt
			ModelArg:        "",
			SupportsResume:  true,
			ResumeTokens:    []string{"threads", "continue"},
			SessionIDFields: []string{"thread_id", "threadID"},
			CostFields:      []string{"cost_usd"},
			PermissionSignatures: []string{
				"permission denied",
				"not logged in",
				"authentication required",
			},
			NetworkSignatures: commonNetworkSignatures,
		},
		{
			Name:            "codex",
			Command:         "codex",
			DefaultArgs:     []string{"exec", "--json", "--full-auto"},
			PromptArgs:      nil, // positional prompt
			ModelArg:        "--model",
			SupportsResume:  false,
			SessionIDFields: []string{"session_id", "conversation_id"},
			CostFields:      []string{"total_cost_usd"},
			PermissionSignatures: []string{
				"permission denied",
				"insufficient_quota",
				"invalid api key",
			},
			PermissionExitCodes: []int{77},
			NetworkSignatures:   commonNetworkSignatures,
		},
	}
}
