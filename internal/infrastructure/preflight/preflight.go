// Package preflight validates credentials and host resources before a run touches anything.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ports"
)

const (
	mib = 1 << 20

	// DefaultMinMemory is the available memory required to start a browser session.
	DefaultMinMemory uint64 = 500 * mib
	// DefaultMinDisk is the free space required for logs and the ledger.
	DefaultMinDisk uint64 = 100 * mib

	minPasswordLength = 8
)

// Credentials is the mailbox login checked for shape only.
type Credentials struct {
	User     string
	Password string
	Server   string
}

// Stats reads host resources. Tests replace it.
type Stats interface {
	AvailableMemory(ctx context.Context) (uint64, error)
	FreeDisk(ctx context.Context, path string) (uint64, error)
}

type hostStats struct{}

func (hostStats) AvailableMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

func (hostStats) FreeDisk(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Checker runs the credential and resource checks.
type Checker struct {
	creds     Credentials
	stats     Stats
	diskPath  string
	minMemory uint64
	minDisk   uint64
	logger    *slog.Logger
}

var _ ports.Preflight = (*Checker)(nil)

// Option customises a Checker.
type Option func(*Checker)

// WithStats replaces the host resource reader.
func WithStats(stats Stats) Option {
	return func(c *Checker) { c.stats = stats }
}

// WithThresholds overrides the memory and disk minimums.
func WithThresholds(memory, disk uint64) Option {
	return func(c *Checker) {
		c.minMemory = memory
		c.minDisk = disk
	}
}

// WithDiskPath sets the directory whose filesystem is checked.
func WithDiskPath(path string) Option {
	return func(c *Checker) { c.diskPath = path }
}

// NewChecker builds a checker for the given credentials.
func NewChecker(creds Credentials, logger *slog.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Checker{
		creds:     creds,
		stats:     hostStats{},
		minMemory: DefaultMinMemory,
		minDisk:   DefaultMinDisk,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.diskPath == "" {
		if wd, err := os.Getwd(); err == nil {
			c.diskPath = wd
		} else {
			c.diskPath = "."
		}
	}
	return c
}

// Check returns a configuration error describing every failed check.
func (c *Checker) Check(ctx context.Context) error {
	if err := c.checkCredentials(); err != nil {
		return domain.NewError(domain.KindConfiguration, "validate credentials", err)
	}
	if err := c.checkResources(ctx); err != nil {
		return domain.NewError(domain.KindConfiguration, "check system resources", err)
	}
	c.logger.Info("preflight passed")
	return nil
}

func (c *Checker) checkCredentials() error {
	var errs []error
	if !strings.Contains(c.creds.User, "@") {
		errs = append(errs, errors.New("email user must be an address"))
	}
	if len(c.creds.Password) < minPasswordLength {
		errs = append(errs, fmt.Errorf("email password must have at least %d characters", minPasswordLength))
	}
	if strings.TrimSpace(c.creds.Server) == "" {
		errs = append(errs, errors.New("imap server is empty"))
	}
	return errors.Join(errs...)
}

func (c *Checker) checkResources(ctx context.Context) error {
	var errs []error

	available, err := c.stats.AvailableMemory(ctx)
	switch {
	case err != nil:
		c.logger.Warn("memory check skipped", "error", err)
	case available < c.minMemory:
		errs = append(errs, fmt.Errorf("available memory %d MiB below %d MiB", available/mib, c.minMemory/mib))
	default:
		c.logger.Debug("memory ok", "available_mib", available/mib)
	}

	free, err := c.stats.FreeDisk(ctx, c.diskPath)
	switch {
	case err != nil:
		c.logger.Warn("disk check skipped", "path", c.diskPath, "error", err)
	case free < c.minDisk:
		errs = append(errs, fmt.Errorf("free disk %d MiB below %d MiB", free/mib, c.minDisk/mib))
	default:
		c.logger.Debug("disk ok", "free_mib", free/mib, "path", c.diskPath)
	}

	return errors.Join(errs...)
}
