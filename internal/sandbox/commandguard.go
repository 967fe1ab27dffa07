package sandbox

import (
	"fmt"
	"log/slog"
	"strings"
)

// shellMetachars are scanned for in arguments. Matches are advisory only:
// invocation is argv-based (exec, never a shell), so none of these can
// reach an interpreter — but their presence in generated test commands is
// worth surfacing.
var shellMetachars = []string{";", "&&", "||", "|", "`", "$", ">", "<", "\n", "\r"}

// SanitizeCommand checks the executable against the allow-list and scans
// the arguments for shell metacharacters.
//
// The executable must be a literal member of the config's allowed
// commands; otherwise the call fails with ErrSecurityViolation carrying
// the rejected value and the allow-list. Metacharacter hits in arguments
// are logged at Warn and the arguments returned unchanged.
func SanitizeCommand(executable string, args []string, cfg *Config, logger *slog.Logger) ([]string, error) {
	allowed := false
	for _, cmd := range cfg.AllowedCommands {
		if cmd == executable {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: command %q is not in the allowed set %v",
			ErrSecurityViolation, executable, cfg.AllowedCommands)
	}

	if logger != nil {
		for _, arg := range args {
			for _, meta := range shellMetachars {
				if strings.Contains(arg, meta) {
					logger.Warn("shell metacharacter in command argument",
						slog.String("executable", executable),
						slog.String("argument", arg),
						slog.String("metacharacter", printableMeta(meta)),
					)
					break
				}
			}
		}
	}

	return args, nil
}

func printableMeta(meta string) string {
	switch meta {
	case "\n":
		return `\n`
	case "\r":
		return `\r`
	default:
		return meta
	}
}
