package languages

import (
	"strings"

	"github.com/google/shlex"
)

const (
	filesToken    = "$FILES"
	mainFileToken = "$MAINFILE"
)

// BuildFunc computes a command from the project file set.
type BuildFunc func(files []string, mainFile, projectName string) []string

// Command describes how to invoke a compile, exec or test step.
// Exactly one of Shell, Args or Build is used, checked in that order.
type Command struct {
	// Shell is run through bash -c after $FILES and $MAINFILE substitution.
	Shell string
	// Args is used verbatim apart from whole-word token substitution.
	Args []string
	// Build computes the argv from the file set.
	Build BuildFunc
}

// IsZero reports whether no command is configured.
func (c Command) IsZero() bool {
	return c.Shell == "" && len(c.Args) == 0 && c.Build == nil
}

// ShellCommand returns a shell-form command.
func ShellCommand(script string) Command {
	return Command{Shell: script}
}

// ArgsCommand returns an argv-form command.
func ArgsCommand(args ...string) Command {
	return Command{Args: append([]string(nil), args...)}
}

// SplitCommand parses a shell-quoted argv string into an argv-form command.
func SplitCommand(line string) (Command, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return Command{}, err
	}
	return Command{Args: args}, nil
}

// Expand resolves the command against the project files. When mainFile is
// empty the first file is used.
func (c Command) Expand(files []string, mainFile, projectName string) []string {
	if mainFile == "" && len(files) > 0 {
		mainFile = files[0]
	}
	switch {
	case c.Shell != "":
		script := c.Shell
		if idx := strings.Index(script, filesToken); idx >= 0 {
			script = script[:idx] + quoteFiles(files) + script[idx+len(filesToken):]
		}
		if mainFile != "" {
			script = strings.Replace(script, mainFileToken, mainFile, 1)
		}
		return []string{"bash", "-c", script}
	case len(c.Args) > 0:
		out := make([]string, 0, len(c.Args)+len(files))
		for _, arg := range c.Args {
			switch arg {
			case filesToken:
				out = append(out, files...)
			case mainFileToken:
				if mainFile != "" {
					out = append(out, mainFile)
				}
			default:
				out = append(out, arg)
			}
		}
		return out
	case c.Build != nil:
		return c.Build(append([]string(nil), files...), mainFile, projectName)
	default:
		return nil
	}
}

func quoteFiles(files []string) string {
	quoted := make([]string, len(files))
	for i, name := range files {
		quoted[i] = "'" + name + "'"
	}
	return strings.Join(quoted, " ")
}
