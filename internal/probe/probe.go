// Package probe implements the Process Probe (spec.md §4.A): quick scans
// across every visible PID and deep scans targeted at a shortlist,
// producing a stream of model.Sample values. It is built on
// github.com/shirou/gopsutil/v4/process, the same ecosystem dependency the
// teacher uses for host inventory (cmd/pulse-agent/main.go uses
// gopsutil/v4/host); this package is the first user of its per-process
// surface in the module.
package probe

import (
	"context"
	"time"

	"github.com/proctriage/triage/internal/apperrors"
	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/supervisor"
	gopsprocess "github.com/shirou/gopsutil/v4/process"
)

// maxAncestorDepth bounds the parent-chain walk DeepScan does for supervisor
// detection; real supervision trees are never this deep, and it keeps a
// misread PPID loop from spinning forever.
const maxAncestorDepth = 8

// Prober performs quick and deep scans over the process table.
type Prober struct {
	bootID func() (string, error)
}

// New returns a Prober using the host's real /proc facilities.
func New() *Prober {
	return &Prober{bootID: cachedBootID}
}

// QuickScanConfig controls a quick scan (spec.md §4.A).
type QuickScanConfig struct {
	Samples  int           // default 3
	Interval time.Duration // default 500ms
	Filter   Filter
}

// Filter narrows which PIDs a scan considers.
type Filter struct {
	PIDs        []int32 // explicit list; empty means "all visible PIDs"
	MinAgeSec   float64
	CmdPattern  string // substring match against cmdline, empty disables
}

// DefaultQuickScanConfig returns spec.md §4.A's stated defaults.
func DefaultQuickScanConfig() QuickScanConfig {
	return QuickScanConfig{Samples: 3, Interval: 500 * time.Millisecond}
}

// QuickScan collects N low-cost samples of every PID matching the filter,
// Δ apart. A per-PID read error never aborts the whole scan: it yields a
// terminal Sample for that PID and continues.
func (p *Prober) QuickScan(ctx context.Context, cfg QuickScanConfig) ([]model.Sample, error) {
	if cfg.Samples <= 0 {
		cfg.Samples = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}

	boot, err := p.bootID()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCapabilityMissing, "boot id unavailable", err)
	}

	var samples []model.Sample
	for i := 0; i < cfg.Samples; i++ {
		pids, err := listPIDs(ctx, cfg.Filter)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCapabilityMissing, "process enumeration unavailable", err)
		}
		for _, pid := range pids {
			samples = append(samples, p.sampleLight(ctx, boot, pid))
		}
		if i < cfg.Samples-1 {
			select {
			case <-ctx.Done():
				return samples, ctx.Err()
			case <-time.After(cfg.Interval):
			}
		}
	}
	return samples, nil
}

// DeepScan augments a shortlist of PIDs with the costlier fields
// (sockets, open files, TTY, supervisor lookup) the quick scan skips.
func (p *Prober) DeepScan(ctx context.Context, pids []int32) ([]model.Sample, error) {
	boot, err := p.bootID()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCapabilityMissing, "boot id unavailable", err)
	}
	samples := make([]model.Sample, 0, len(pids))
	for _, pid := range pids {
		samples = append(samples, p.sampleDeep(ctx, boot, pid))
	}
	return samples, nil
}

func listPIDs(ctx context.Context, filter Filter) ([]int32, error) {
	if len(filter.PIDs) > 0 {
		return filter.PIDs, nil
	}
	return gopsprocess.PidsWithContext(ctx)
}

// sampleLight reads only the low-cost fields a quick scan needs. Any
// per-PID error yields a terminal sample rather than failing the scan
// (spec.md §4.A).
func (p *Prober) sampleLight(ctx context.Context, boot string, pid int32) model.Sample {
	proc, err := gopsprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		return terminalSample(boot, pid)
	}

	startTicks, err := readStartTicks(pid)
	if err != nil {
		return terminalSample(boot, pid)
	}

	ppid, _ := proc.PpidWithContext(ctx)
	cmdline, _ := proc.CmdlineWithContext(ctx)
	statuses, _ := proc.StatusWithContext(ctx)
	uids, _ := proc.UidsWithContext(ctx)
	createTimeMS, _ := proc.CreateTimeWithContext(ctx)
	times, _ := proc.TimesWithContext(ctx)
	numFDs, _ := proc.NumFDsWithContext(ctx)

	uid := 0
	if len(uids) > 0 {
		uid = int(uids[0])
	}

	var cpuTicks uint64
	if times != nil {
		cpuTicks = uint64((times.User + times.System) * clockTicksPerSecond())
	}

	runtime := 0.0
	if createTimeMS > 0 {
		runtime = time.Since(time.UnixMilli(createTimeMS)).Seconds()
	}

	return model.Sample{
		Identity:    model.Identity{PID: int(pid), StartID: model.NewStartID(boot, startTicks, int(pid)), UID: uid},
		ObservedAt:  time.Now(),
		State:       procState(statuses),
		CPUTicks:    cpuTicks,
		RuntimeSec:  runtime,
		PPID:        int(ppid),
		CmdLine:     cmdline,
		OpenFDCount: int(numFDs),
	}
}

// sampleDeep augments a light sample with sockets, open files, TTY,
// memory, and supervisor identity — the fields the quick scan intentionally
// skips.
func (p *Prober) sampleDeep(ctx context.Context, boot string, pid int32) model.Sample {
	s := p.sampleLight(ctx, boot, pid)
	if s.Terminal {
		return s
	}

	proc, err := gopsprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		return terminalSample(boot, pid)
	}

	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		s.RSSBytes = mem.RSS
	}
	if io, err := proc.IOCountersWithContext(ctx); err == nil && io != nil {
		s.IOBytes = io.ReadBytes + io.WriteBytes
	}
	if conns, err := proc.ConnectionsWithContext(ctx); err == nil {
		s.SocketCount = len(conns)
	}
	if term, err := proc.TerminalWithContext(ctx); err == nil && term != "" {
		s.HasTTY = true
	}
	s.OpenWriteFiles = openWriteFiles(ctx, proc, pid)
	s.Supervisor = supervisor.Detect(supervisor.ReadCgroup(int(pid)), p.ancestorCmdlines(ctx, s.PPID))
	return s
}

// ancestorCmdlines walks the parent chain starting at ppid, nearest parent
// first, for supervisor.DetectFromAncestors. It stops at pid 1, a read
// error, or maxAncestorDepth — whichever comes first.
func (p *Prober) ancestorCmdlines(ctx context.Context, ppid int) []string {
	var cmdlines []string
	pid := int32(ppid)
	for i := 0; i < maxAncestorDepth && pid > 1; i++ {
		proc, err := gopsprocess.NewProcessWithContext(ctx, pid)
		if err != nil {
			break
		}
		cmd, err := proc.CmdlineWithContext(ctx)
		if err != nil || cmd == "" {
			break
		}
		cmdlines = append(cmdlines, cmd)
		next, err := proc.PpidWithContext(ctx)
		if err != nil || next == pid {
			break
		}
		pid = next
	}
	return cmdlines
}

// openWriteFiles returns the paths of proc's file descriptors open for
// writing. gopsutil's OpenFilesWithContext reports paths but not access
// mode, so each fd's mode comes from fdWriteMode, which is platform-specific.
func openWriteFiles(ctx context.Context, proc *gopsprocess.Process, pid int32) []string {
	files, err := proc.OpenFilesWithContext(ctx)
	if err != nil {
		return nil
	}
	var writable []string
	for _, f := range files {
		if fdWriteMode(pid, f.Fd) {
			writable = append(writable, f.Path)
		}
	}
	return writable
}

func terminalSample(boot string, pid int32) model.Sample {
	return model.Sample{
		Identity:   model.Identity{PID: int(pid), StartID: model.NewStartID(boot, 0, int(pid))},
		ObservedAt: time.Now(),
		Terminal:   true,
	}
}

func procState(statuses []string) model.ProcState {
	if len(statuses) == 0 {
		return model.ProcStateUnknown
	}
	switch statuses[0] {
	case gopsprocess.Running:
		return model.ProcStateRunning
	case gopsprocess.Sleep:
		return model.ProcStateSleeping
	case gopsprocess.Stop:
		return model.ProcStateStopped
	case gopsprocess.Idle:
		return model.ProcStateSleeping
	case gopsprocess.Zombie:
		return model.ProcStateZombie
	case gopsprocess.Wait:
		return model.ProcStateUninterruptSleep
	default:
		return model.ProcStateUnknown
	}
}

// clockTicksPerSecond is USER_HZ, almost universally 100 on Linux.
func clockTicksPerSecond() float64 {
	return 100
}
