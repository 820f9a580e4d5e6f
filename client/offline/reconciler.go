package offline

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

type Source string

const (
	SourceCache Source = "cache"
	SourceLive  Source = "live"
)

// Update is one emission of Load. Err is only set when the live fetch failed
// and there was nothing cached to fall back on.
type Update struct {
	CachedRecordSet
	Source Source
	Err    error
}

type Fetcher interface {
	FetchCollection(ctx context.Context, key string) ([]json.RawMessage, error)
}

type Connectivity interface {
	Online() bool
}

type ConnectivityFunc func() bool

func (f ConnectivityFunc) Online() bool { return f() }

type Reconciler struct {
	log     *zap.Logger
	cache   *Cache
	fetcher Fetcher
	conn    Connectivity
	now     func() time.Time
}

func NewReconciler(log *zap.Logger, cache *Cache, fetcher Fetcher, conn Connectivity) *Reconciler {
	return &Reconciler{
		log:     log.Named("offline"),
		cache:   cache,
		fetcher: fetcher,
		conn:    conn,
		now:     time.Now,
	}
}

// Load emits the cached snapshot for key right away, then the live one if the
// client is online and the fetch succeeds before ctx is done. The channel is
// closed after the last emission.
//
// A failed fetch is silent while the cache has records. With an empty cache
// the failure is emitted as a second, still empty, Update carrying Err, so a
// view can tell "nothing yet" from "nothing available".
func (r *Reconciler) Load(ctx context.Context, key string) <-chan Update {
	out := make(chan Update, 2)

	snapshot, err := r.cache.Get(key)
	if err != nil {
		r.log.Sugar().Warnw("Failed to read cache, starting empty", "key", key, "err", err)
	}
	out <- Update{CachedRecordSet: snapshot, Source: SourceCache}

	if !r.conn.Online() || ctx.Err() != nil {
		close(out)
		return out
	}

	go func() {
		defer close(out)

		records, err := r.fetcher.FetchCollection(ctx, key)
		if ctx.Err() != nil {
			r.log.Debug("Dropping live fetch for closed view", zap.String("key", key))
			return
		}
		if err != nil {
			r.log.Sugar().Debugw("Live fetch failed", "key", key, "cached", len(snapshot.Records), "err", err)
			if snapshot.Empty() {
				out <- Update{CachedRecordSet: snapshot, Source: SourceLive, Err: err}
			}
			return
		}

		if records == nil {
			records = []json.RawMessage{}
		}
		fresh := CachedRecordSet{Key: key, Records: records, LastFetched: r.now().UTC()}
		if err := r.cache.Put(fresh); err != nil {
			r.log.Sugar().Warnw("Failed to store live records", "key", key, "err", err)
		}
		out <- Update{CachedRecordSet: fresh, Source: SourceLive}
	}()

	return out
}
