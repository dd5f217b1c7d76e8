package uploader

import (
	"fmt"
	"sync"
	"time"
)

// 停滞检测器，超过 stallTimeout 没有进度时调用 onStall 并停止
type stallDetector struct {
	checkInterval time.Duration
	stallTimeout  time.Duration
	onStall       func(reason string)

	mu           sync.Mutex
	lastProgress time.Time
	stopCh       chan struct{}
	running      bool
	stalled      string
	wg           sync.WaitGroup
}

func newStallDetector(options *StallDetection, onStall func(reason string)) *stallDetector {
	return &stallDetector{
		checkInterval: options.CheckInterval,
		stallTimeout:  options.StallTimeout,
		onStall:       onStall,
	}
}

func (d *stallDetector) start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	d.running = true
	d.stalled = ""
	d.lastProgress = time.Now()
	d.stopCh = make(chan struct{})
	d.wg.Add(1)
	go d.loop(d.stopCh)
}

// 停止检测，并等待检测协程退出
func (d *stallDetector) stop() {
	d.mu.Lock()
	if d.running {
		d.running = false
		close(d.stopCh)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *stallDetector) updateProgress() {
	d.mu.Lock()
	d.lastProgress = time.Now()
	d.mu.Unlock()
}

// 返回停滞原因，没有停滞时返回空字符串
func (d *stallDetector) reason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stalled
}

func (d *stallDetector) loop(stopCh <-chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			d.mu.Lock()
			if !d.running {
				d.mu.Unlock()
				return
			}
			elapsed := now.Sub(d.lastProgress)
			if elapsed <= d.stallTimeout {
				d.mu.Unlock()
				continue
			}
			d.running = false
			d.stalled = fmt.Sprintf("no progress for %s", elapsed.Truncate(time.Millisecond))
			reason := d.stalled
			d.mu.Unlock()

			d.onStall(reason)
			return
		}
	}
}
