// Package cache is the TTL cache manager shared by every data area.
//
// A CacheService memoizes the result of a fetch under a string key. Each read
// names the TTL it accepts: an entry older than that window is removed and
// reported as a miss, so two callers may hold different freshness
// requirements for the same key.
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//
//	user, err := cache.CachedFetch(ctx, svc, "user_data_42", 5*time.Minute,
//		func(ctx context.Context) (User, error) {
//			return api.GetUser(ctx, "42")
//		})
//
// A fetch error is returned to the caller and nothing is stored. Concurrent
// misses on the same key share one fetch.
//
// Keys are built with a KeySerializer. The default serializer renders
// criteria through their String method, giving keys such as
//
//	wedding_tasks::list::wedding_id=w1,due_date asc
//
// Keys that share a prefix can be dropped together with DeleteByPrefix.
package cache
