package resume

import (
	"net/http"
	"time"
)

// Progress is reported after the first response and after every chunk.
type Progress struct {
	Transferred int64 // window bytes received so far
	Total       int64 // window size, -1 if unknown
}

// RetryInfo describes a scheduled retry.
type RetryInfo struct {
	Attempt      int           // attempt number about to be started
	AttemptTotal int           // attempts made so far
	Delay        time.Duration // wait before the next attempt
	Err          error         // why the previous attempt failed
}

// Observer receives transfer events. Callbacks run on the transfer's
// goroutine and must not block.
//
// OnRequest and OnResponse fire at most once per transfer, for the first
// request sent and the first response that passed validation.
type Observer interface {
	OnRequest(req *http.Request)
	OnResponse(res *http.Response)
	OnProgress(p Progress)
}

// RetryObserver is implemented by observers that also want to hear
// about scheduled retries.
type RetryObserver interface {
	OnRetry(info RetryInfo)
}

// ObserverFuncs adapts optional functions to Observer and RetryObserver.
type ObserverFuncs struct {
	Request  func(req *http.Request)
	Response func(res *http.Response)
	Progress func(p Progress)
	Retry    func(info RetryInfo)
}

func (o ObserverFuncs) OnRequest(req *http.Request) {
	if o.Request != nil {
		o.Request(req)
	}
}

func (o ObserverFuncs) OnResponse(res *http.Response) {
	if o.Response != nil {
		o.Response(res)
	}
}

func (o ObserverFuncs) OnProgress(p Progress) {
	if o.Progress != nil {
		o.Progress(p)
	}
}

func (o ObserverFuncs) OnRetry(info RetryInfo) {
	if o.Retry != nil {
		o.Retry(info)
	}
}

// observers fans events out in registration order.
type observers []Observer

func (obs observers) request(req *http.Request) {
	for _, o := range obs {
		o.OnRequest(req)
	}
}

func (obs observers) response(res *http.Response) {
	for _, o := range obs {
		o.OnResponse(res)
	}
}

func (obs observers) progress(p Progress) {
	for _, o := range obs {
		o.OnProgress(p)
	}
}

func (obs observers) retry(info RetryInfo) {
	for _, o := range obs {
		if ro, ok := o.(RetryObserver); ok {
			ro.OnRetry(info)
		}
	}
}
