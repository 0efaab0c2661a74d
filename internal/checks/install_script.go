package checks

import (
	"context"
	"fmt"

	"github.com/saferun/safe-pkgs/internal/core"
)

// InstallScript flags a package whose requested version registers an
// install-time lifecycle hook the registry exposed to us.
type InstallScript struct{}

func (InstallScript) ID() string                 { return "install_script" }
func (InstallScript) Description() string        { return "no install/postinstall lifecycle hook" }
func (InstallScript) Priority() int              { return 100 }
func (InstallScript) RunsOnMissingPackage() bool { return false }
func (InstallScript) RunsOnMissingVersion() bool { return false }
func (InstallScript) NeedsWeeklyDownloads() bool { return false }
func (InstallScript) NeedsAdvisories() bool      { return false }

func (InstallScript) Run(ctx context.Context, cctx core.CheckExecutionContext) ([]core.Finding, error) {
	switch cctx.Metadata.HasInstallScript {
	case core.TristateTrue:
		return []core.Finding{{
			CheckID:  "install_script",
			Severity: core.SeverityHigh,
			Message:  fmt.Sprintf("%s declares an install/postinstall hook", cctx.Ref.Name),
		}}, nil
	default:
		return nil, nil
	}
}
