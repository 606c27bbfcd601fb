package responder

import "strings"

// casualizer rewrites stiff phrasing into the contractions people use on the
// phone. At each position the first matching phrase wins.
var casualizer = strings.NewReplacer(
	"I apologize", "I'm sorry",
	"As an AI", "As someone who's thinking about this",
	"I am unable to", "I can't",
	"I am not", "I'm not",
	"I would like to", "I'd like to",
	"I am happy to", "I'm happy to",
	"I will", "I'll",
	"I have", "I've",
	"it is", "it's",
	"that is", "that's",
)

// Casualize applies the contraction rewrites to a reply.
func Casualize(reply string) string {
	return casualizer.Replace(reply)
}
