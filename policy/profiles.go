package policy

import "fmt"

// Profile returns a predefined policy by name. Available profiles:
//
//	default  - moderate quotas for general sandbox use
//	strict   - tight quotas and a short extension whitelist
//	readonly - no mutations at all
//	untrusted- highly restrictive, confined to /sandbox
//	testing  - effectively unrestricted
func Profile(name string) (*Policy, error) {
	switch name {
	case "default":
		return &Policy{
			MaxFileSize:  10 * 1024 * 1024,
			MaxTotalSize: 100 * 1024 * 1024,
			MaxFiles:     1000,
			MaxPathDepth: 10,
			DeniedPaths:  []string{"/etc", "/usr", "/bin", "/sbin", "/var", "/boot"},
		}, nil
	case "strict":
		return &Policy{
			MaxFileSize:  1024 * 1024,
			MaxTotalSize: 10 * 1024 * 1024,
			MaxFiles:     100,
			MaxPathDepth: 5,
			AllowedExtensions: []string{
				".txt", ".md", ".json", ".yaml", ".yml", ".csv",
			},
			DeniedPaths: []string{"/etc", "/usr", "/bin", "/sbin", "/var", "/boot"},
		}, nil
	case "readonly":
		return &Policy{ReadOnly: true}, nil
	case "untrusted":
		return &Policy{
			MaxFileSize:  512 * 1024,
			MaxTotalSize: 5 * 1024 * 1024,
			MaxFiles:     50,
			MaxPathDepth: 3,
			AllowedPaths: []string{"/sandbox", "/tmp"},
			DeniedExtensions: []string{
				".exe", ".sh", ".bat", ".cmd", ".com", ".dll", ".so",
			},
		}, nil
	case "testing":
		return &Policy{}, nil
	default:
		return nil, fmt.Errorf("vfs: unknown security profile %q", name)
	}
}

// Profiles lists the available predefined profile names.
func Profiles() []string {
	return []string{"default", "strict", "readonly", "untrusted", "testing"}
}
