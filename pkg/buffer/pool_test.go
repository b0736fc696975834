package buffer

import "testing"

func TestPoolGetPutReusesBuffers(t *testing.T) {
	pool := NewPool(DefaultMaxSize)

	b1 := pool.Get()
	pool.Put(b1)
	b2 := pool.Get()

	if b1 != b2 {
		t.Fatalf("expected pool to reuse the returned buffer")
	}
	if pool.AllocationCount() != 1 {
		t.Fatalf("expected allocation count 1, got %d", pool.AllocationCount())
	}
}

func TestPoolDoubleReturnIsIgnored(t *testing.T) {
	pool := NewPool(DefaultMaxSize)

	b := pool.Get()
	pool.Put(b)
	pool.Put(b) // must not panic or corrupt the free list

	first := pool.Get()
	second := pool.Get()
	if first == second {
		t.Fatalf("double return corrupted the pool: same buffer handed out twice")
	}
}

func TestPoolRejectsOversizeBuffers(t *testing.T) {
	pool := NewPool(DefaultMaxSize)
	big := newBuffer(evictionThreshold + 1)

	pool.Put(big)
	if len(pool.free) != 0 {
		t.Fatalf("expected oversize buffer to be dropped, not pooled")
	}
}

func TestPoolAllocationCountPlateaus(t *testing.T) {
	pool := NewPool(DefaultMaxSize)

	for i := 0; i < 1000; i++ {
		b := pool.Get()
		pool.Put(b)
	}

	if pool.AllocationCount() > 4 {
		t.Fatalf("allocation count grew unbounded under get/put churn: %d", pool.AllocationCount())
	}
}

func TestOversizePoolBucketing(t *testing.T) {
	pool := NewPool(DefaultMaxSize)

	arr := pool.GetOversize(pool.MaxSize()*3 + 10)
	if len(arr) != pool.MaxSize()*3+10 {
		t.Fatalf("expected length %d, got %d", pool.MaxSize()*3+10, len(arr))
	}
	pool.PutOversize(arr)

	arr2 := pool.GetOversize(pool.MaxSize()*3 + 5)
	if cap(arr2) < pool.MaxSize()*3+5 {
		t.Fatalf("expected reused bucket to fit request")
	}
}
