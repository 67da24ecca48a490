package async

import "time"

// maxBackoffExponent caps 2^n minutes well below time.Duration overflow (~2 years)
const maxBackoffExponent = 20

// Backoff is the delay before the next attempt after retryCount failed
// retries: 2^retryCount minutes.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxBackoffExponent {
		retryCount = maxBackoffExponent
	}
	return time.Duration(1<<uint(retryCount)) * time.Minute
}

// NextRetryAt returns now + Backoff(retryCount)
func NextRetryAt(now time.Time, retryCount int) time.Time {
	return now.Add(Backoff(retryCount))
}
