// Package imagery fetches, caches and invalidates decoded tile imagery.
//
// A Manager is bound to one (key, provider) pair. It holds at most one
// ImageSet (an image per RenderMode), runs fetches on an Executor, lets a
// strictly higher priority request pre-empt the one in flight, and notifies
// observers after new imagery becomes visible. Managers with equal keys and
// provider names are interchangeable; a shared Hub makes sure such managers
// never fetch the same image twice concurrently.
//
// Provider data is immutable and may be shared between managers. Each
// manager copies it into pooled pixel buffers that it alone owns, so every
// Image is disposed exactly once.
//
//	pool := imagery.NewWorkerPool(4)
//	defer pool.Close()
//
//	m := imagery.MustNewManager(maptile.New(3, 5, 4), prov)
//	m.RequestImageData(ctx, imagery.Request{
//		Executor: pool,
//		Budget:   imagery.NewTimeBudget(10 * time.Millisecond),
//	})
//	if set := m.CachedImageData(); set != nil {
//		draw(set.Image(imagery.ModeDraw))
//	}
package imagery
