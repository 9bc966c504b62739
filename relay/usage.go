package relay

import (
	"github.com/softempire/magic-wormhole/config"
	"github.com/softempire/magic-wormhole/db"
)

// Usage result values. These mirror the moods/results the wormhole client
// reports and the ones test_server.py pins for nameplate/mailbox teardown.
const (
	ResultHappy   = "happy"
	ResultLonely  = "lonely"
	ResultCrowded = "crowded"
	ResultPruney  = "pruney"
	ResultErrory  = "errory"
	ResultScary   = "scary"
)

// blurTime rounds t down to the nearest blurSeconds boundary. blurSeconds
// of 0 disables blurring and returns t unchanged.
func blurTime(t int64, blurSeconds uint) int64 {
	if blurSeconds == 0 {
		return t
	}
	b := int64(blurSeconds)
	return (t / b) * b
}

// blurSize rounds a byte count up to a coarser bucket so transit usage logs
// don't reveal exact transfer sizes: nearest 10kB below 1e6, nearest 1MB
// below 1e9, nearest 100MB beyond that.
func blurSize(size int64) int64 {
	switch {
	case size == 0:
		return 0
	case size < 1000000:
		return ceilToMultiple(size, 10000)
	case size < 1000000000:
		return ceilToMultiple(size, 1000000)
	default:
		return ceilToMultiple(size, 100000000)
	}
}

func ceilToMultiple(size, multiple int64) int64 {
	if size%multiple == 0 {
		return size
	}
	return (size/multiple + 1) * multiple
}

// summarizeNameplateUsage builds the nameplate_usage row recorded when a
// nameplate is fully released or pruned. sides holds every side that ever
// claimed it (claimed or since-released), in claim order.
func summarizeNameplateUsage(appID string, sides []db.NameplateSideRow, started, closedAt int64, crowded, pruned bool) db.UsageRow {
	u := db.UsageRow{
		AppID:     appID,
		Started:   blurred(started),
		TotalTime: closedAt - started,
	}

	if len(sides) >= 2 {
		wt := sides[1].Added - sides[0].Added
		u.WaitingTime.Int64 = wt
		u.WaitingTime.Valid = true
	}

	switch {
	case crowded:
		u.Result = ResultCrowded
	case pruned:
		u.Result = ResultPruney
	case len(sides) < 2:
		u.Result = ResultLonely
	default:
		u.Result = ResultHappy
	}

	return u
}

// summarizeMailboxUsage builds the mailbox_usage row recorded when a
// mailbox's last open side closes, or it is pruned. Each side row carries
// the mood it reported via the close command (NULL for sides that never
// closed cleanly, e.g. disconnect or pruning).
func summarizeMailboxUsage(appID string, sides []db.MailboxSideRow, started, closedAt int64, pruned bool) db.UsageRow {
	u := db.UsageRow{
		AppID:     appID,
		Started:   blurred(started),
		TotalTime: closedAt - started,
	}

	if len(sides) >= 2 {
		wt := sides[1].Added - sides[0].Added
		u.WaitingTime.Int64 = wt
		u.WaitingTime.Valid = true
	}

	switch {
	case len(sides) > 2:
		u.Result = ResultCrowded
	case pruned:
		u.Result = ResultPruney
	case len(sides) < 2:
		u.Result = ResultLonely
	default:
		u.Result = moodResult(sides)
	}

	return u
}

// moodResult reconciles the moods both sides reported on close into a
// single summary result, erring toward the least happy outcome.
func moodResult(sides []db.MailboxSideRow) string {
	sawScary, sawErrory, sawLonely := false, false, false

	for _, s := range sides {
		if !s.Mood.Valid {
			continue
		}
		switch s.Mood.String {
		case ResultScary:
			sawScary = true
		case ResultErrory:
			sawErrory = true
		case ResultLonely:
			sawLonely = true
		}
	}

	switch {
	case sawScary:
		return ResultScary
	case sawErrory:
		return ResultErrory
	case sawLonely:
		return ResultLonely
	default:
		return ResultHappy
	}
}

// blurred rounds a usage timestamp per the configured BlurUsage resolution.
func blurred(t int64) int64 {
	if config.Opts == nil {
		return t
	}
	return blurTime(t, config.Opts.Relay.BlurUsage)
}
