package cli

import (
	"github.com/spf13/cobra"

	"github.com/jtang613/gometa/pkg/assembly"
)

type frameworkResult struct {
	Present bool                    `json:"present"`
	Name    string                  `json:"name,omitempty"`
	Parsed  *assembly.FrameworkName `json:"parsed,omitempty"`
}

type runtimeResult struct {
	Version string `json:"version"`
	WinMD   bool   `json:"winmd"`
	Managed bool   `json:"managed"`
}

func frameworkInfo(a *assembly.Assembly) frameworkResult {
	f, ok := a.FrameworkMarker()
	if !ok {
		return frameworkResult{}
	}
	return frameworkResult{Present: true, Name: f.String(), Parsed: &f}
}

func runtimeInfo(a *assembly.Assembly) runtimeResult {
	winmd, managed := a.IsWinMD()
	return runtimeResult{Version: a.RuntimeVersion(), WinMD: winmd, Managed: managed}
}

func newDumpCmd(e *env, use, short string, fn func(*assembly.Assembly) (interface{}, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <assembly>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.run(cmd, args[0], fn)
		},
	}
}

func newInfoCmd(e *env) *cobra.Command {
	return newDumpCmd(e, "info", "Show assembly identity and image information",
		func(a *assembly.Assembly) (interface{}, error) {
			return a.Info()
		})
}

func newDepsCmd(e *env) *cobra.Command {
	return newDumpCmd(e, "deps", "List referenced assemblies",
		func(a *assembly.Assembly) (interface{}, error) {
			return a.Dependencies()
		})
}

func newFilesCmd(e *env) *cobra.Command {
	return newDumpCmd(e, "files", "List the files of a multi-file assembly",
		func(a *assembly.Assembly) (interface{}, error) {
			return a.Files()
		})
}

func newFrameworkCmd(e *env) *cobra.Command {
	return newDumpCmd(e, "framework", "Show the target framework",
		func(a *assembly.Assembly) (interface{}, error) {
			return frameworkInfo(a), nil
		})
}

func newRuntimeCmd(e *env) *cobra.Command {
	return newDumpCmd(e, "runtime", "Show the runtime version and Windows metadata markers",
		func(a *assembly.Assembly) (interface{}, error) {
			return runtimeInfo(a), nil
		})
}

func newAllCmd(e *env) *cobra.Command {
	return newDumpCmd(e, "all", "Show everything",
		func(a *assembly.Assembly) (interface{}, error) {
			result := make(map[string]interface{})
			info, err := a.Info()
			if err != nil {
				return nil, err
			}
			deps, err := a.Dependencies()
			if err != nil {
				return nil, err
			}
			files, err := a.Files()
			if err != nil {
				return nil, err
			}
			result["info"] = info
			result["dependencies"] = deps
			result["files"] = files
			result["framework"] = frameworkInfo(a)
			result["runtime"] = runtimeInfo(a)
			return result, nil
		})
}
