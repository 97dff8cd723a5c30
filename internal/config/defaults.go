package config

import "time"

// Default values for configuration
const (
	// Log defaults
	DefaultLogLevel = "info"

	// Database defaults
	DefaultDBPath = "leadscout.db" // Default SQLite database name

	// Gateway defaults
	DefaultGatewayBaseURL = "http://127.0.0.1:8484"
	DefaultGatewaySession = "leadcore_session"
	DefaultGatewayTimeout = 30 * time.Second
	DefaultGatewayRPS     = 1.0

	// Scraper defaults
	DefaultSafetyMode          = "normal"
	DefaultMessageLimit        = 500
	DefaultMaxMessagesPerUser  = 5
	DefaultMessageMaxAgeDays   = 10
	DefaultFloodWaitExtra      = 10 * time.Second
	DefaultMaxFloodWaitRetries = 2
	DefaultPostsToFetch        = 50
	DefaultMaxSessionDuration  = 40 * time.Minute
	DefaultMaxChatsPerRun      = 5

	// Program defaults applied when a seed file omits them
	DefaultProgramMinScore       = 5
	DefaultProgramMaxLeadsPerRun = 20

	// Reasoning model defaults
	DefaultLLMProvider    = "openai"
	DefaultLLMBaseURL     = "https://api.cometapi.com/v1"
	DefaultLLMModel       = "gpt-4o"
	DefaultLLMTemperature = 0.5
	DefaultLLMTimeout     = 60 * time.Second
	DefaultLLMMaxRetries  = 3
	DefaultLLMRetryDelay  = 2 * time.Second
)

// Message freshness boundaries in days. A message younger than Hot is hot,
// younger than Warm is warm, younger than Cold is cold, anything older is
// stale.
const (
	FreshnessHotDays  = 3
	FreshnessWarmDays = 7
	FreshnessColdDays = 30
)

// Default phrases that force a qualification score to zero. The reasoning
// text is lowercased and scanned for literal occurrences; these lists may be
// overridden wholesale in the config file but the matching rule never
// changes.
var DefaultCantSolvePhrases = []string{
	"не можем решить",
	"не можем сделать",
	"не можем закрыть",
	"не решается ботом",
	"не решается нашим",
	"не решается telegram",
	"не подходит для бота",
	"бот не может",
	"бот не решает",
	"нет api",
	"недоступен api",
	"api отсутствует",
	"нет доступа к api",
	"нет интеграции",
	"недоступна интеграция",
	"методологическая проблема",
	"бухгалтерская проблема",
	"не процесс",
	"не решается через",
	"недоступных api",
	"нужна интеграция с",
	"требует интеграции с",
	"нет конкретной боли",
	"не выявлено конкретной боли",
	"боли не выявлено",
	"боли отсутствуют",
}

// DefaultVaguePhrases mark reasoning that hedges instead of naming a real
// pain. Same matching rule as DefaultCantSolvePhrases.
var DefaultVaguePhrases = []string{
	"нет болей",
	"нет прямых болей",
	"не видно болей",
	"боли предполагаемые",
	"боли не очевидны",
	"типичные боли",
	"вероятные боли",
	"косвенные боли",
	"боли типичные для",
	"предположительно",
	"вероятно владелец",
}

// DelayRange bounds one randomized pause class.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Operation classes for scraper pacing.
const (
	DelayBetweenChats        = "between_chats"
	DelayBetweenRequests     = "between_requests"
	DelayBetweenChannelParse = "between_channel_parse"
	DelayBetweenPostsFetch   = "between_posts_fetch"
)

var safetyDelays = map[string]map[string]DelayRange{
	"fast": {
		DelayBetweenChats:        {15 * time.Second, 30 * time.Second},
		DelayBetweenRequests:     {1 * time.Second, 2 * time.Second},
		DelayBetweenChannelParse: {1 * time.Second, 2 * time.Second},
		DelayBetweenPostsFetch:   {500 * time.Millisecond, 1 * time.Second},
	},
	"normal": {
		DelayBetweenChats:        {30 * time.Second, 60 * time.Second},
		DelayBetweenRequests:     {2 * time.Second, 3 * time.Second},
		DelayBetweenChannelParse: {2 * time.Second, 3 * time.Second},
		DelayBetweenPostsFetch:   {1 * time.Second, 2 * time.Second},
	},
	"careful": {
		DelayBetweenChats:        {60 * time.Second, 120 * time.Second},
		DelayBetweenRequests:     {3 * time.Second, 5 * time.Second},
		DelayBetweenChannelParse: {3 * time.Second, 5 * time.Second},
		DelayBetweenPostsFetch:   {2 * time.Second, 3 * time.Second},
	},
}

// Delay returns the pause range for the given safety mode and operation
// class. Unknown modes fall back to normal and unknown operation classes to
// a 2-3s range.
func Delay(mode, operation string) DelayRange {
	m, ok := safetyDelays[mode]
	if !ok {
		m = safetyDelays["normal"]
	}
	r, ok := m[operation]
	if !ok {
		return DelayRange{2 * time.Second, 3 * time.Second}
	}
	return r
}
