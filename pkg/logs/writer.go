package logs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-gost/core/logger"

	applog "github.com/secubox/secubox-waf/pkg/logger"
	"github.com/secubox/secubox-waf/pkg/security"
)

// WriterConfig 日志文件配置, 路径为空时不写该文件
type WriterConfig struct {
	AccessLog   string
	CrowdSecLog string
	BanLog      string

	QueueSize    int
	BanQueueSize int
}

// WriterStats 写入统计
type WriterStats struct {
	Written       int64 `json:"written"`
	Dropped       int64 `json:"dropped"`
	CrowdSec      int64 `json:"crowdsec"`
	BansWritten   int64 `json:"bans_written"`
	WriteFailures int64 `json:"write_failures"`
	Queued        int   `json:"queued"`
}

// Writer 异步 JSON Lines 写入器
// 所有文件均以 O_APPEND 打开并常驻, 单个写协程保证行不交错
type Writer struct {
	cfg    WriterConfig
	logger logger.Logger

	entries chan *Entry
	bans    chan security.BanRequest
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	fileMu sync.Mutex
	files  map[string]*os.File

	written, dropped, crowdsec, bansWritten, failures int64
}

// WriterOption 选项
type WriterOption func(*Writer)

// WithWriterLogger 设置日志
func WithWriterLogger(l logger.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = l
	}
}

// NewWriter 创建并启动写入器
func NewWriter(cfg WriterConfig, opts ...WriterOption) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.BanQueueSize <= 0 {
		cfg.BanQueueSize = 256
	}

	w := &Writer{
		cfg:     cfg,
		logger:  applog.Nop(),
		entries: make(chan *Entry, cfg.QueueSize),
		bans:    make(chan security.BanRequest, cfg.BanQueueSize),
		done:    make(chan struct{}),
		files:   make(map[string]*os.File),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.loop()
	return w
}

// Submit 提交访问日志条目, 队列满时丢弃并计数
func (w *Writer) Submit(e *Entry) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}

	select {
	case w.entries <- e:
		return true
	default:
		if atomic.AddInt64(&w.dropped, 1)%1000 == 1 {
			w.logger.Warnf("access log queue full, dropping entries (dropped=%d)", atomic.LoadInt64(&w.dropped))
		}
		return false
	}
}

// Emit 实现 security.BanSink, 队列满时同步写入
func (w *Writer) Emit(req security.BanRequest) {
	w.mu.RLock()
	if !w.closed {
		select {
		case w.bans <- req:
			w.mu.RUnlock()
			return
		default:
		}
	}
	w.mu.RUnlock()

	w.logger.Warnf("ban queue full, writing %s synchronously", req.IP)
	w.writeBan(req)
}

func (w *Writer) loop() {
	defer close(w.done)

	entries, bans := w.entries, w.bans
	for entries != nil || bans != nil {
		select {
		case req, ok := <-bans:
			if !ok {
				bans = nil
				continue
			}
			w.writeBan(req)
		case e, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			w.writeEntry(e)
		}
	}
}

func (w *Writer) writeEntry(e *Entry) {
	if w.cfg.AccessLog != "" {
		if err := w.appendJSON(w.cfg.AccessLog, e); err != nil {
			w.logger.Errorf("Failed to write access log: %v", err)
		} else {
			atomic.AddInt64(&w.written, 1)
		}
	}

	if w.cfg.CrowdSecLog != "" && ShouldReport(e) {
		if err := w.appendJSON(w.cfg.CrowdSecLog, NewCrowdSecEntry(e)); err != nil {
			w.logger.Errorf("Failed to write CrowdSec log: %v", err)
		} else {
			atomic.AddInt64(&w.crowdsec, 1)
		}
	}
}

func (w *Writer) writeBan(req security.BanRequest) {
	if w.cfg.BanLog == "" {
		return
	}
	if err := w.appendJSON(w.cfg.BanLog, req); err != nil {
		w.logger.Errorf("Failed to write auto-ban request: %v", err)
		return
	}
	atomic.AddInt64(&w.bansWritten, 1)
}

// appendJSON 追加一行 JSON, 写入失败时关闭文件以便下次重新打开
func (w *Writer) appendJSON(path string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		atomic.AddInt64(&w.failures, 1)
		return fmt.Errorf("序列化失败: %w", err)
	}
	line = append(line, '\n')

	w.fileMu.Lock()
	defer w.fileMu.Unlock()

	f, err := w.open(path)
	if err != nil {
		atomic.AddInt64(&w.failures, 1)
		return err
	}
	if _, err := f.Write(line); err != nil {
		atomic.AddInt64(&w.failures, 1)
		f.Close()
		delete(w.files, path)
		return fmt.Errorf("写入 %s 失败: %w", path, err)
	}
	return nil
}

// open 需持有 fileMu
func (w *Writer) open(path string) (*os.File, error) {
	if f, ok := w.files[path]; ok {
		return f, nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建目录 %s 失败: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开 %s 失败: %w", path, err)
	}
	w.files[path] = f
	return f, nil
}

// Reopen 关闭已打开的文件, 下次写入时重新打开 (配合外部日志轮转)
func (w *Writer) Reopen() {
	w.fileMu.Lock()
	defer w.fileMu.Unlock()
	for path, f := range w.files {
		f.Close()
		delete(w.files, path)
	}
}

// Stats 写入统计
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Written:       atomic.LoadInt64(&w.written),
		Dropped:       atomic.LoadInt64(&w.dropped),
		CrowdSec:      atomic.LoadInt64(&w.crowdsec),
		BansWritten:   atomic.LoadInt64(&w.bansWritten),
		WriteFailures: atomic.LoadInt64(&w.failures),
		Queued:        len(w.entries) + len(w.bans),
	}
}

// Close 停止接收并写完队列中的条目
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.entries)
	close(w.bans)
	w.mu.Unlock()

	<-w.done
	w.Reopen()
	return nil
}
