package relay

import (
	"database/sql"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/softempire/magic-wormhole/db"
	"github.com/softempire/magic-wormhole/log"
)

// Application is the Go name for what spec section 3 calls an AppNamespace:
// every nameplate and mailbox is scoped to one, identified by the appid the
// client supplied on bind. Applications are created lazily and live for the
// lifetime of the process; their nameplates and mailboxes are durable.
type Application struct {
	ID    string
	store *db.Store

	mu        sync.Mutex
	Mailboxes map[string]*Mailbox

	crowdedNameplates map[int64]bool
	crowdedMailboxes  map[string]bool
}

// NewApplication creates an application namespace bound to store.
func NewApplication(id string, store *db.Store) *Application {
	return &Application{
		ID:                id,
		store:             store,
		Mailboxes:         make(map[string]*Mailbox),
		crowdedNameplates: make(map[int64]bool),
		crowdedMailboxes:  make(map[string]bool),
	}
}

// GetNameplateIDs returns every nameplate name currently claimed for this
// app. Used to answer the "list" command when AllowList is enabled.
func (a *Application) GetNameplateIDs() ([]string, error) {
	names, err := db.ListNameplateNames(a.store.DB(), a.ID)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// findFreeNameplate picks an unclaimed nameplate name, widening the search
// range as the namespace fills up: [1,10) while fewer than 9 are taken,
// then [1,100), then [1,1000), then [1,1000000) as a last resort.
func (a *Application) findFreeNameplate() (string, error) {
	claimed, err := a.GetNameplateIDs()
	if err != nil {
		return "", err
	}

	taken := make(map[string]bool, len(claimed))
	for _, c := range claimed {
		taken[c] = true
	}

	ranges := []int{10, 100, 1000}
	for _, high := range ranges {
		if len(taken) >= high-1 {
			continue
		}
		if id, ok := pickUnclaimed(1, high, taken); ok {
			return id, nil
		}
	}

	if id, ok := pickUnclaimed(1, 1000000, taken); ok {
		return id, nil
	}

	return "", errors.New("no available nameplate IDs")
}

func pickUnclaimed(low, high int, taken map[string]bool) (string, bool) {
	avail := make([]string, 0, high-low)
	for i := low; i < high; i++ {
		id := strconv.Itoa(i)
		if !taken[id] {
			avail = append(avail, id)
		}
	}
	if len(avail) == 0 {
		return "", false
	}
	return avail[rand.Intn(len(avail))], true
}

// ClaimNameplate claims nameplate name on behalf of side, creating it (and
// its mailbox) if this is the first claim. Returns the mailbox id. A third
// distinct side attempting to claim an already-doubly-claimed nameplate
// gets errCrowded (reported to the client as errs.ErrCrowded); its side row
// is still recorded so it can be released, and the two sides already
// present keep their claims.
func (a *Application) ClaimNameplate(name, side string, now int64) (string, error) {
	var mailboxID string
	var npID int64
	var crowded bool

	err := a.store.WithTx(func(tx *sql.Tx) error {
		np, err := db.GetNameplate(tx, a.ID, name)
		if err != nil {
			return err
		}

		if np == nil {
			mailboxID = strings.ReplaceAll(uuid.New().String(), "-", "")
			if err := db.InsertMailbox(tx, a.ID, mailboxID, true, now); err != nil {
				return err
			}
			id, err := db.InsertNameplate(tx, a.ID, name, mailboxID, now)
			if err != nil {
				return err
			}
			npID = id
		} else {
			npID = np.ID
			mailboxID = np.MailboxID
			if err := db.TouchNameplate(tx, npID, now); err != nil {
				return err
			}
		}

		existing, err := db.GetNameplateSide(tx, npID, side)
		if err != nil {
			return err
		}
		if existing != nil {
			//Reclaiming from the same side already holding it: idempotent.
			return nil
		}

		n, err := db.CountClaimedNameplateSides(tx, npID)
		if err != nil {
			return err
		}

		//Insert the side row even when crowded, so it can still be released
		//later (spec section 4.2) -- a third side's attempt is rejected but
		//not forgotten.
		if err := db.InsertNameplateSide(tx, npID, side, now); err != nil {
			return err
		}
		crowded = n >= 2

		return nil
	})
	if err != nil {
		return "", err
	}

	if crowded {
		a.mu.Lock()
		a.crowdedNameplates[npID] = true
		a.mu.Unlock()
		return "", errCrowded
	}

	if _, err := a.OpenMailbox(mailboxID, side, now); err != nil {
		return "", err
	}

	return mailboxID, nil
}

// AllocateNameplate finds a free nameplate name and claims it for side in
// one step, returning the chosen name.
func (a *Application) AllocateNameplate(side string, now int64) (string, error) {
	name, err := a.findFreeNameplate()
	if err != nil {
		return "", err
	}

	if _, err := a.ClaimNameplate(name, side, now); err != nil {
		return "", err
	}

	return name, nil
}

// ReleaseNameplate releases side's hold on nameplate name. When this was
// the last claimed side, the nameplate is torn down and a usage record is
// emitted. Releasing a side that never claimed, or a nameplate that no
// longer exists, is a silent no-op (spec section 4.2).
func (a *Application) ReleaseNameplate(name, side string, now int64) error {
	return a.store.WithTx(func(tx *sql.Tx) error {
		np, err := db.GetNameplate(tx, a.ID, name)
		if err != nil || np == nil {
			return err
		}

		if err := db.SetNameplateSideClaimed(tx, np.ID, side, false); err != nil {
			return err
		}

		remaining, err := db.CountClaimedNameplateSides(tx, np.ID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}

		sides, err := db.ListNameplateSides(tx, np.ID)
		if err != nil {
			return err
		}

		a.mu.Lock()
		crowded := a.crowdedNameplates[np.ID]
		delete(a.crowdedNameplates, np.ID)
		a.mu.Unlock()

		usage := summarizeNameplateUsage(a.ID, sides, np.Updated, now, crowded, false)
		if err := db.InsertNameplateUsage(tx, usage); err != nil {
			return err
		}

		return db.DeleteNameplate(tx, np.ID)
	})
}

// OpenMailbox registers side as having opened mailboxID, creating the
// mailbox row and in-memory Mailbox if necessary, and returns it. A third
// distinct side opening an already-doubly-open mailbox is rejected with
// errCrowded (reported to the client as errs.ErrCrowded); its side row is
// still recorded so it can be closed, and the two sides already present
// are not disturbed.
func (a *Application) OpenMailbox(mailboxID, side string, now int64) (*Mailbox, error) {
	var crowded bool

	err := a.store.WithTx(func(tx *sql.Tx) error {
		if err := db.InsertMailbox(tx, a.ID, mailboxID, false, now); err != nil {
			return err
		}
		if err := db.TouchMailbox(tx, a.ID, mailboxID, now); err != nil {
			return err
		}

		existing, err := db.GetMailboxSide(tx, a.ID, mailboxID, side)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		n, err := db.CountOpenMailboxSides(tx, a.ID, mailboxID)
		if err != nil {
			return err
		}

		//Insert the side row even when crowded, so it can still be released
		//later (spec section 4.3) -- a third side's attempt is rejected but
		//not forgotten.
		if err := db.InsertMailboxSide(tx, a.ID, mailboxID, side, now); err != nil {
			return err
		}
		crowded = n >= 2

		return nil
	})
	if err != nil {
		return nil, err
	}
	if crowded {
		a.mu.Lock()
		a.crowdedMailboxes[mailboxID] = true
		a.mu.Unlock()
		return nil, errCrowded
	}

	a.mu.Lock()
	mbox, has := a.Mailboxes[mailboxID]
	if !has {
		mbox = NewMailbox(mailboxID, a.ID, a.store)
		a.Mailboxes[mailboxID] = mbox
	}
	a.mu.Unlock()

	return mbox, nil
}

// CloseMailbox records side's close (with mood) against mailboxID. When
// this was the last open side, the mailbox is torn down, its listeners
// stopped, and a usage record emitted.
func (a *Application) CloseMailbox(mailboxID, side, mood string, now int64) error {
	var shouldDelete bool
	var started int64

	err := a.store.WithTx(func(tx *sql.Tx) error {
		mb, err := db.GetMailbox(tx, a.ID, mailboxID)
		if err != nil || mb == nil {
			return err
		}

		existing, err := db.GetMailboxSide(tx, a.ID, mailboxID, side)
		if err != nil || existing == nil {
			return err
		}

		if err := db.CloseMailboxSide(tx, a.ID, mailboxID, side, mood); err != nil {
			return err
		}

		n, err := db.CountOpenMailboxSides(tx, a.ID, mailboxID)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		sides, err := db.ListMailboxSides(tx, a.ID, mailboxID)
		if err != nil {
			return err
		}

		started = mb.Updated
		for _, s := range sides {
			if started == 0 || s.Added < started {
				started = s.Added
			}
		}

		usage := summarizeMailboxUsage(a.ID, sides, started, now, false)
		if err := db.InsertMailboxUsage(tx, usage); err != nil {
			return err
		}

		if err := db.DeleteMailbox(tx, a.ID, mailboxID); err != nil {
			return err
		}
		shouldDelete = true
		return nil
	})
	if err != nil {
		return err
	}

	if shouldDelete {
		a.mu.Lock()
		crowded := a.crowdedMailboxes[mailboxID]
		delete(a.crowdedMailboxes, mailboxID)
		mbox, has := a.Mailboxes[mailboxID]
		delete(a.Mailboxes, mailboxID)
		a.mu.Unlock()

		if crowded {
			log.Debugf("mailbox %s torn down after a crowding attempt", mailboxID)
		}
		if has {
			mbox.shutdown()
		}
	}

	return nil
}

// prune tears down nameplates and mailboxes for this app that haven't been
// touched since before threshold, emitting pruney usage records.
func (a *Application) prune(now, threshold int64) error {
	nameplates, err := db.ListNameplatesForApp(a.store.DB(), a.ID)
	if err != nil {
		return err
	}

	for _, np := range nameplates {
		if np.Updated >= threshold {
			continue
		}

		err := a.store.WithTx(func(tx *sql.Tx) error {
			sides, err := db.ListNameplateSides(tx, np.ID)
			if err != nil {
				return err
			}

			usage := summarizeNameplateUsage(a.ID, sides, np.Updated, now, false, true)
			if err := db.InsertNameplateUsage(tx, usage); err != nil {
				return err
			}

			return db.DeleteNameplate(tx, np.ID)
		})
		if err != nil {
			return err
		}

		a.mu.Lock()
		delete(a.crowdedNameplates, np.ID)
		a.mu.Unlock()

		log.Infof("pruned stale nameplate %s for app %s", np.Name, a.ID)
	}

	mailboxes, err := db.ListMailboxesForApp(a.store.DB(), a.ID)
	if err != nil {
		return err
	}

	for _, mb := range mailboxes {
		if mb.Updated >= threshold {
			continue
		}

		a.mu.Lock()
		liveMbox, listening := a.Mailboxes[mb.ID]
		a.mu.Unlock()
		if listening && liveMbox.HasListeners() {
			continue
		}

		var deleted bool
		err := a.store.WithTx(func(tx *sql.Tx) error {
			sides, err := db.ListMailboxSides(tx, a.ID, mb.ID)
			if err != nil {
				return err
			}

			for _, s := range sides {
				if s.Added >= threshold {
					return nil
				}
			}

			usage := summarizeMailboxUsage(a.ID, sides, mb.Updated, now, true)
			if err := db.InsertMailboxUsage(tx, usage); err != nil {
				return err
			}

			if err := db.DeleteMailbox(tx, a.ID, mb.ID); err != nil {
				return err
			}
			deleted = true
			return nil
		})
		if err != nil {
			return err
		}
		if !deleted {
			continue
		}

		a.mu.Lock()
		crowded := a.crowdedMailboxes[mb.ID]
		delete(a.crowdedMailboxes, mb.ID)
		mbox, has := a.Mailboxes[mb.ID]
		delete(a.Mailboxes, mb.ID)
		a.mu.Unlock()

		if crowded {
			log.Debugf("pruned mailbox %s after a crowding attempt", mb.ID)
		}
		if has {
			mbox.shutdown()
		}

		log.Infof("pruned stale mailbox %s for app %s", mb.ID, a.ID)
	}

	return nil
}

// errCrowded is a sentinel used internally by WithTx callbacks to signal a
// crowding rejection distinct from a real storage failure; translated to
// errs.ErrCrowded by relay.Client.
var errCrowded = errors.New("crowded")
