package archive

import (
	"context"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/teranos/pricehist/errors"
)

// FreeSpaceFunc reports the free bytes on the filesystem holding dir.
type FreeSpaceFunc func(ctx context.Context, dir string) (uint64, error)

// HostFreeSpace asks the operating system through gopsutil.
func HostFreeSpace(ctx context.Context, dir string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return 0, errors.Wrapf(err, "disk usage for %s", dir)
	}
	return usage.Free, nil
}

// ensureSpace fails with a fatal error when dir has less than minFree bytes.
// minFree of zero disables the check.
func ensureSpace(ctx context.Context, free FreeSpaceFunc, dir string, minFree uint64) error {
	if minFree == 0 || free == nil {
		return nil
	}
	avail, err := free(ctx, dir)
	if err != nil {
		// Unknown free space is not a shortage; a real one surfaces as ENOSPC.
		return nil
	}
	if avail < minFree {
		return errors.WithHint(
			errors.Fatal(errors.Newf("%d bytes free in %s, need at least %d", avail, dir, minFree), "insufficient disk space"),
			"free space or lower fetch.min_free_disk_mb",
		)
	}
	return nil
}

// classifyLocalError marks filesystem errors that no retry can fix as fatal.
func classifyLocalError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EDQUOT),
		errors.Is(err, syscall.EROFS),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM),
		errors.Is(err, os.ErrPermission):
		return errors.Fatal(err, "local storage")
	}
	return err
}
