package fl2k

import (
	"sync/atomic"
	"time"
)

const eventTimeout = 1 * time.Second

// transferDone runs inside HandleEvents on the usb worker goroutine
// whenever a bulk transfer finishes. While running, a completed
// transfer is immediately replaced on the wire by the oldest filled
// buffer; if none is ready the stale buffer goes out again and the
// underflow counter advances. Anything other than a clean completion
// or a requested cancellation means the device is gone.
func (d *Device) transferDone(x *Transfer) {
	if x.Status == TransferCompleted && atomic.LoadInt32(&d.status) == statusRunning {
		d.bufMu.Lock()
		if i, ok := d.pool.next(bufFilled); ok {
			d.pool.info[i].state = bufSubmitted
			if err := d.tr.Submit(d.pool.xfers[i]); err != nil {
				// keep the data for the next completion; counts as
				// an underflow, not a fatal error, to keep the
				// stream alive
				d.pool.info[i].state = bufFilled
				atomic.AddUint32(&d.underflowCnt, 1)
				logf("fl2k: resubmit failed: %v", err)
			}
			d.pool.info[x.slot].state = bufEmpty
		} else {
			// no fresh buffer ready, resend the stale one
			atomic.AddUint32(&d.underflowCnt, 1)
			if err := d.tr.Submit(x); err != nil {
				d.pool.info[x.slot].state = bufEmpty
				logf("fl2k: resubmit failed: %v", err)
			}
		}
		d.bufCond.Signal()
		d.bufMu.Unlock()
		return
	}

	d.bufMu.Lock()
	d.pool.info[x.slot].state = bufEmpty
	d.bufCond.Signal()
	d.bufMu.Unlock()

	if x.Status != TransferCompleted && x.Status != TransferCancelled {
		if atomic.LoadInt32(&d.devLost) == 0 {
			d.markLost()
			logf("fl2k: device error (transfer status %d), stopping", x.Status)
		}
		d.StopTx()
		d.bufCond.Broadcast()
	}
}

// usbWorker pumps transfer completions while the session runs, then
// cancels whatever is still in flight and drains the hardware before
// releasing the buffer pool.
func (d *Device) usbWorker() {
	for atomic.LoadInt32(&d.status) == statusRunning {
		if err := d.tr.HandleEvents(eventTimeout); err != nil {
			logf("fl2k: event handling failed: %v", err)
			d.markLost()
			d.StopTx()
			break
		}
	}

	for {
		d.bufMu.Lock()
		pending := 0
		for i := range d.pool.info {
			if d.pool.info[i].state == bufSubmitted {
				pending++
				d.tr.Cancel(d.pool.xfers[i])
			}
		}
		d.bufMu.Unlock()
		if pending == 0 {
			break
		}
		d.tr.HandleEvents(eventTimeout)
		d.tr.HandleEvents(0)
	}

	d.bufCond.Broadcast()
	<-d.sampleExited

	d.bufMu.Lock()
	d.pool.free(d.tr)
	d.pool = nil
	d.bufMu.Unlock()
	atomic.StoreInt32(&d.status, statusInactive)
}

// claimEmpty blocks until an empty buffer is available or the session
// leaves the running state.
func (d *Device) claimEmpty() (int, bool) {
	d.bufMu.Lock()
	defer d.bufMu.Unlock()
	for {
		if atomic.LoadInt32(&d.status) != statusRunning {
			return 0, false
		}
		if i, ok := d.pool.next(bufEmpty); ok {
			return i, true
		}
		d.bufCond.Wait()
	}
}

// sampleWorker requests data from the sample source, converts it into
// the wire format and queues the result for transmission. One buffer
// needs one callback in multichannel mode and three in single channel
// mode. After device loss or a callback requested abort the source
// receives exactly one final callback with DeviceError set; only
// transport detected loss marks the device lost.
func (d *Device) sampleWorker() {
	defer close(d.sampleExited)

	fatal := false
	var seq uint64
	var lastUnderflows uint32

	for atomic.LoadInt32(&d.status) == statusRunning {
		var info [3]DataInfo
		info[0] = DataInfo{
			Ctx:            d.srcCtx,
			Len:            BufLen,
			UnderflowCount: atomic.LoadUint32(&d.underflowCnt),
		}
		if info[0].UnderflowCount > lastUnderflows {
			logf("fl2k: underflow, %d total", info[0].UnderflowCount)
			lastUnderflows = info[0].UnderflowCount
		}
		d.src.Samples(&info[0])
		if info[0].DeviceError {
			d.StopTx()
			fatal = true
			break
		}

		slot, ok := d.claimEmpty()
		if !ok {
			break
		}
		buf := d.pool.bufs[slot]

		if d.mode == ModeSingleChan {
			for k := 0; k < 3 && !fatal; k++ {
				if k > 0 {
					info[k] = DataInfo{
						Ctx:            d.srcCtx,
						Len:            BufLen,
						UnderflowCount: atomic.LoadUint32(&d.underflowCnt),
					}
					d.src.Samples(&info[k])
					if info[k].DeviceError {
						d.StopTx()
						fatal = true
						break
					}
				}
				out := buf[k*BufLen : (k+1)*BufLen]
				convertSingleChan(out, info[k].RBuf, sampleBias(info[k].SampleTypeSigned))
			}
			if fatal {
				break
			}
		} else {
			bias := sampleBias(info[0].SampleTypeSigned)
			convertR(buf, info[0].RBuf, bias)
			convertG(buf, info[0].GBuf, bias)
			convertB(buf, info[0].BBuf, bias)
		}

		d.bufMu.Lock()
		d.pool.info[slot].state = bufFilled
		d.pool.info[slot].seq = seq
		seq++
		d.bufMu.Unlock()
	}

	if fatal || atomic.LoadInt32(&d.devLost) == 1 {
		d.src.Samples(&DataInfo{Ctx: d.srcCtx, DeviceError: true})
	}
}
