/*
Package storage defines the KV Store interface consumed by the Queue,
Registry, and Notification components, plus its concrete backends.

	┌──────────────────────────── Store ─────────────────────────────┐
	│ Write(key, value, ttl)  Read(key, pop)  Delete(key)  Keys()     │
	│ Next(pop)               CompareAndSwap(key, old, new, ttl)      │
	└─────┬───────────┬────────────────┬─────────────┬───────────────┘
	      │           │                │             │
	  MemoryStore  DiskStore       SQLStore       HTTPStore
	  (sync.Map-   (bbolt,one     (sqlx over      (proxies to
	   like, TTL    bucket per     sqlite, one     the KV-Store
	   sweep)       file)          table)          middleware)

Every backend is serializable within itself and linearizable per key;
none of them provide cross-backend transactions. TTL expiry is passive
(checked on read) for all backends, plus an active background sweep for
MemoryStore only. CompareAndSwap is the one operation that
spans a compare and a write atomically, and is the primitive
pkg/queue.Queue.Dispatch relies on to make lease claims exclusive even
when the backing store is shared by more than one process (SQLStore) or
more than one goroutine (MemoryStore, DiskStore).
*/
package storage
