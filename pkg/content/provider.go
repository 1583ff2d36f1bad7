// Package content supplies everything the bot can say that is not plumbing:
// canned jokes and quotes, and fetched weather and news. Fetched providers
// can fail or time out; callers translate errors into user-facing messages.
package content

import (
	"fmt"
	"math/rand"
	"sync"
)

// ErrUnavailable means a provider call failed or timed out. Transient from
// the user's point of view: surfaced as a generic failure message.
var ErrUnavailable = fmt.Errorf("content provider unavailable")

// ---------------------------------------------------------------------------
// Static content
// ---------------------------------------------------------------------------

var jokes = []string{
	"Why don't scientists trust atoms? Because they make up everything!",
	"Why did the scarecrow win an award? He was outstanding in his field!",
	"What do you call a fake noodle? An impasta!",
	"Why did the math book look so sad? Because it had too many problems!",
	"What do you call a bear with no teeth? A gummy bear!",
	"Why don't eggs tell jokes? They'd crack each other up!",
	"What do you call a dinosaur that crashes his car? Tyrannosaurus wrecks!",
	"Why did the cookie go to the doctor? Because it was feeling crumbly!",
}

var quotes = []string{
	"The only way to do great work is to love what you do. - Steve Jobs",
	"Life is what happens when you're busy making other plans. - John Lennon",
	"The future belongs to those who believe in the beauty of their dreams. - Eleanor Roosevelt",
	"Success is not final, failure is not fatal: it is the courage to continue that counts. - Winston Churchill",
	"The journey of a thousand miles begins with one step. - Lao Tzu",
	"Believe you can and you're halfway there. - Theodore Roosevelt",
	"It does not matter how slowly you go as long as you do not stop. - Confucius",
	"The only limit to our realization of tomorrow will be our doubts of today. - Franklin D. Roosevelt",
}

// Static serves the canned joke and quote lists.
type Static struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// NewStatic creates a static provider with the given random seed source.
func NewStatic(src rand.Source) *Static {
	return &Static{rand: rand.New(src)}
}

// Joke returns a random joke.
func (s *Static) Joke() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return jokes[s.rand.Intn(len(jokes))]
}

// Quote returns a random quote.
func (s *Static) Quote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return quotes[s.rand.Intn(len(quotes))]
}
