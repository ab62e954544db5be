package authz

// DefaultMatrix is used when no matrix file is configured. Read-only commands
// are public; commands that change something require a role, with ship open
// to everyone in development.
func DefaultMatrix() *Matrix {
	return NewMatrix(map[string]Entry{
		"help":          {Description: "List available commands"},
		"repo":          {Description: "Repository summary"},
		"health":        {Description: "Run repository checks"},
		"conversations": {Description: "List active conversations"},
		"conversation":  {Description: "Show or close a conversation", RequiresAuth: true},
		"comment":       {Description: "Comment on a pull request", RequiresAuth: true},
		"ship":          {Description: "Deploy a ref", RequiresAuth: true, BypassOnEnv: "development"},
	})
}
