package runtime

import "github.com/google/uuid"

// BeginTransferArgs are the parameters HttpSurface passes when a
// streaming upload or download is about to start.
type BeginTransferArgs struct {
	DeviceID             string
	Direction            Direction
	TotalBytes           uint64
	BatchID              string
	BatchTotalFiles      int
	BatchTotalBytes      uint64
	BatchCompletedFiles  int
}

// TransferTicket is the handle returned to the streaming I/O code that
// reports progress and observes cancellation.
type TransferTicket struct {
	r          *Runtime
	transferID string
	deviceID   string
	direction  Direction
	generation uint64
	lock       *deviceLock
	closed     bool
}

// BeginTransfer runs the Queue and Admit phases synchronously: it
// allocates the Transfer under the global lock, then blocks on the
// device's fair FIFO lock (released from the global lock while
// waiting), then re-validates before handing back a ticket ready for
// the Run phase. Returns ErrDeviceNotFound if the device isn't paired,
// or nil, ErrNoTransferTicket if the device was revoked while queued.
func (r *Runtime) BeginTransfer(args BeginTransferArgs) (*TransferTicket, error) {
	r.mu.Lock()
	if _, ok := r.devices[args.DeviceID]; !ok {
		r.mu.Unlock()
		return nil, ErrDeviceNotFound
	}
	dr := r.deviceRuntime(args.DeviceID)
	generation := dr.CancelGeneration
	dr.QueuedTransfers++

	transferID := uuid.NewString()
	t := &Transfer{
		ID:         transferID,
		DeviceID:   args.DeviceID,
		Direction:  args.Direction,
		TotalBytes: args.TotalBytes,
		Generation: generation,
		BatchID:    args.BatchID,
	}
	r.transfers[transferID] = t
	r.applyBatchLocked(args)
	lock := dr.lock
	r.mu.Unlock()

	lock.acquire()

	r.mu.Lock()
	dr = r.runtimes[args.DeviceID]
	_, stillPaired := r.devices[args.DeviceID]
	if !stillPaired || dr == nil || dr.CancelGeneration != generation {
		dr0 := r.runtimes[args.DeviceID]
		if dr0 != nil {
			dr0.QueuedTransfers--
		}
		delete(r.transfers, transferID)
		r.mu.Unlock()
		lock.release()
		return nil, ErrNoTransferTicket
	}

	t.Active = true
	dr.QueuedTransfers--
	dr.ActiveTransfers++
	r.batchDirection(args.Direction).ActiveFiles++
	r.mu.Unlock()

	return &TransferTicket{
		r:          r,
		transferID: transferID,
		deviceID:   args.DeviceID,
		direction:  args.Direction,
		generation: generation,
		lock:       lock,
	}, nil
}

func (r *Runtime) batchDirection(d Direction) *BatchState {
	b := r.batches[d]
	if b == nil {
		b = &BatchState{}
		r.batches[d] = b
	}
	return b
}

// applyBatchLocked applies the batch accounting policy described in
// spec.md §4.5. Callers must hold r.mu.
func (r *Runtime) applyBatchLocked(args BeginTransferArgs) {
	b := r.batchDirection(args.Direction)
	switch {
	case args.BatchID == "" && !r.hasActiveTransfersLocked(args.Direction):
		r.batches[args.Direction] = &BatchState{}
	case args.BatchID != "" && b.BatchID == args.BatchID:
		if args.BatchTotalFiles > b.TotalFiles {
			b.TotalFiles = args.BatchTotalFiles
		}
		if args.BatchTotalBytes > b.TotalBytes {
			b.TotalBytes = args.BatchTotalBytes
		}
	case args.BatchID != "":
		r.batches[args.Direction] = &BatchState{
			BatchID:    args.BatchID,
			TotalFiles: args.BatchTotalFiles,
			TotalBytes: args.BatchTotalBytes,
		}
	}
}

func (r *Runtime) hasActiveTransfersLocked(d Direction) bool {
	for _, t := range r.transfers {
		if t.Direction == d && t.Active {
			return true
		}
	}
	return false
}

// AddProgress adds delta bytes to the transfer and to overall
// accounting. Deltas <= 0 are ignored; progress is monotonically
// non-decreasing.
func (t *TransferTicket) AddProgress(delta int64) {
	if delta <= 0 {
		return
	}
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if tr, ok := t.r.transfers[t.transferID]; ok {
		tr.TransferredBytes += uint64(delta)
	}
}

// Cancelled reports whether the device is no longer paired or the
// transfer's generation no longer matches the device's current
// cancelGeneration.
func (t *TransferTicket) Cancelled() bool {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if _, ok := t.r.devices[t.deviceID]; !ok {
		return true
	}
	dr, ok := t.r.runtimes[t.deviceID]
	if !ok {
		return true
	}
	return dr.CancelGeneration != t.generation
}

// Close is idempotent. It decrements active counters, advances batch
// counters monotonically, clears the batch singleton when its last
// transfer completes, and releases the per-device lock.
func (t *TransferTicket) Close() {
	t.r.mu.Lock()
	if t.closed {
		t.r.mu.Unlock()
		return
	}
	t.closed = true

	delete(t.r.transfers, t.transferID)
	if dr, ok := t.r.runtimes[t.deviceID]; ok {
		if dr.ActiveTransfers > 0 {
			dr.ActiveTransfers--
		}
	}
	b := t.r.batchDirection(t.direction)
	if b.ActiveFiles > 0 {
		b.ActiveFiles--
	}
	b.CompletedFiles++
	if b.TotalFiles > 0 && b.CompletedFiles >= b.TotalFiles {
		t.r.batches[t.direction] = &BatchState{}
	}
	t.r.mu.Unlock()

	t.lock.release()
}

// OverallProgress reports the current overall transferred/total bytes
// for direction, per spec.md's publish rule: the batch's TotalBytes
// when a batch is known, otherwise the sum of active transfers'
// TotalBytes.
func (r *Runtime) OverallProgress(d Direction) (transferred, total uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.batchDirection(d)
	if b.BatchID != "" {
		total = b.TotalBytes
	}
	for _, t := range r.transfers {
		if t.Direction != d {
			continue
		}
		transferred += t.TransferredBytes
		if b.BatchID == "" && t.Active {
			total += t.TotalBytes
		}
	}
	return transferred, total
}
