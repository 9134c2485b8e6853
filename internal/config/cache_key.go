package config

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ActiveSessionsKey returns the hash holding every live exam session, keyed by session ID.
func (r *CacheKeyStruct) ActiveSessionsKey() string {
	return "exam_sessions:active"
}

// SessionEventsChannel returns the pub/sub channel announcing session starts and finishes.
func (r *CacheKeyStruct) SessionEventsChannel() string {
	return "exam_sessions:events"
}

var CacheKey = NewCacheKeyStruct()
