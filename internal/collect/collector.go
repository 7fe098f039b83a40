package collect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/cjp256/lpt/internal/artifact"
	"github.com/cjp256/lpt/internal/systemd"
)

// DefaultCloudInitLogPath is where cloud-init writes its log.
const DefaultCloudInitLogPath = "/var/log/cloud-init.log"

// Artifact names inside the output directory.
const (
	JournalArtifact   = "journal.json"
	CloudInitArtifact = "cloud-init.log"
	ManagerArtifact   = "systemctl-show.txt"
	ListUnitsArtifact = "systemctl-list-units.json"
	UnitShowArtifact  = "systemctl-show-units.txt"
)

const (
	showBatchSize   = 64
	showConcurrency = 4
)

// Request selects what to collect. On a local target, empty paths query the
// running system; on a remote target paths refer to the remote filesystem.
type Request struct {
	Journal   bool
	CloudInit bool
	Units     bool

	// JournalPath is a `journalctl -o json` capture, or a journal directory.
	JournalPath      string
	CloudInitLogPath string
	// SystemdPath is a saved `systemctl show` capture.
	SystemdPath string
}

// Capture is the raw data collected for one analysis.
type Capture struct {
	Journal   []byte
	CloudInit []byte
	// CloudInitMissing is set when the cloud-init log does not exist.
	CloudInitMissing bool
	// Units is `systemctl show` output, manager block first.
	Units []byte
}

// Collector gathers the requested inputs concurrently.
type Collector struct {
	// Runner executes commands. Nil runs them locally.
	Runner Runner
	// Remote marks Runner as a remote target: files are read through it.
	Remote bool
	// Store, when set, keeps a copy of every capture.
	Store *artifact.Store
	Log   *slog.Logger
}

func (c *Collector) runner() Runner {
	if c.Runner == nil {
		return Local{}
	}
	return c.Runner
}

func (c *Collector) logger() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

// Collect fetches everything req asks for. A missing cloud-init log is not
// an error; any other failure cancels the remaining fetches.
func (c *Collector) Collect(ctx context.Context, req Request) (*Capture, error) {
	var capture Capture
	g, ctx := errgroup.WithContext(ctx)

	if req.Journal {
		g.Go(func() error {
			data, err := c.journal(ctx, req.JournalPath)
			if err != nil {
				return fmt.Errorf("collect journal: %w", err)
			}
			capture.Journal = data
			return c.save(JournalArtifact, data)
		})
	}
	if req.CloudInit {
		g.Go(func() error {
			path := req.CloudInitLogPath
			if path == "" {
				path = DefaultCloudInitLogPath
			}
			data, err := c.readFile(ctx, path)
			if errors.Is(err, ErrNotFound) {
				c.logger().Warn("cloud-init log missing", "path", path)
				capture.CloudInitMissing = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("collect cloud-init log: %w", err)
			}
			capture.CloudInit = data
			return c.save(CloudInitArtifact, data)
		})
	}
	if req.Units {
		g.Go(func() error {
			data, err := c.units(ctx, req.SystemdPath)
			if err != nil {
				return fmt.Errorf("collect units: %w", err)
			}
			capture.Units = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &capture, nil
}

func (c *Collector) save(name string, data []byte) error {
	if c.Store == nil {
		return nil
	}
	path, err := c.Store.Save(name, data)
	if err != nil {
		return err
	}
	c.logger().Debug("saved artifact", "path", path, "bytes", len(data))
	return nil
}

func (c *Collector) journal(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return c.runner().Run(ctx, "journalctl", "-o", "json", "--no-pager")
	}
	if !c.Remote {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return Local{}.Run(ctx, "journalctl", "-o", "json", "--no-pager", "-D", path)
		}
	}
	return c.readFile(ctx, path)
}

// readFile reads path on the target. Remote reads use cat, retried with sudo
// since logs are often root-only.
func (c *Collector) readFile(ctx context.Context, path string) ([]byte, error) {
	if !c.Remote {
		data, err := artifact.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return data, err
	}

	r := c.runner()
	data, err := r.Run(ctx, "cat", path)
	if err == nil {
		return data, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	c.logger().Debug("cat failed, retrying with sudo", "path", path, "error", err)
	data, err = r.Run(ctx, "sudo", "cat", path)
	if missingFile(err) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return data, err
}

// units returns the manager block followed by every unit's properties.
func (c *Collector) units(ctx context.Context, path string) ([]byte, error) {
	if path != "" {
		return c.readFile(ctx, path)
	}
	r := c.runner()

	manager, err := r.Run(ctx, "systemctl", "show")
	if err != nil {
		return nil, err
	}
	if err := c.save(ManagerArtifact, manager); err != nil {
		return nil, err
	}

	listing, err := r.Run(ctx, "systemctl", "list-units", "--all", "-o", "json", "--no-pager")
	if err != nil {
		return nil, err
	}
	if err := c.save(ListUnitsArtifact, listing); err != nil {
		return nil, err
	}
	listed, err := systemd.ParseListUnits(listing)
	if err != nil {
		return nil, err
	}
	names := systemd.Names(listed)
	c.logger().Debug("listed units", "count", len(names))

	batches := make([][]byte, (len(names)+showBatchSize-1)/showBatchSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(showConcurrency)
	for i := range batches {
		i := i
		lo := i * showBatchSize
		hi := min(lo+showBatchSize, len(names))
		g.Go(func() error {
			args := append([]string{"show", "--"}, names[lo:hi]...)
			out, err := r.Run(gctx, "systemctl", args...)
			if err != nil {
				return err
			}
			batches[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(manager)
	for _, b := range batches {
		buf.WriteString("\n")
		buf.Write(b)
	}
	if err := c.save(UnitShowArtifact, buf.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
