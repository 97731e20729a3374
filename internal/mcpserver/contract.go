package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/sift/internal/models"
)

// ContractURI is the resource URI of the classification contract.
const ContractURI = "sift://classification-contract"

// ClassificationContract describes the reply shape apply_classification
// accepts, for the given category ids.
func ClassificationContract(categories []string) string {
	sentiments := make([]string, len(models.Sentiments))
	for i, s := range models.Sentiments {
		sentiments[i] = "`" + string(s) + "`"
	}
	cats := make([]string, len(categories))
	for i, c := range categories {
		cats[i] = "`" + c + "`"
	}

	var b strings.Builder
	b.WriteString("# Sift Classification Contract\n\n")
	b.WriteString("Classify the records returned by `list_unclassified` (or `get_board`) and submit\n")
	b.WriteString("the result with `apply_classification`.\n\n")
	b.WriteString("## Shape\n\n")
	b.WriteString("```json\n")
	b.WriteString(`{"12": {"category": "ai", "sentiment": "question"}, "13": {"category": "library", "sentiment": "positive"}}`)
	b.WriteString("\n```\n\n")
	b.WriteString("## Rules\n\n")
	b.WriteString("1. The top level MUST be a JSON object keyed by record id written as a string.\n")
	fmt.Fprintf(&b, "2. `category` is one of %s. Matching ignores case.\n", strings.Join(cats, ", "))
	fmt.Fprintf(&b, "3. `sentiment` is one of %s.\n", strings.Join(sentiments, ", "))
	fmt.Fprintf(&b, "4. Applying is a full re-partition: any record you leave out goes back to `%s`.\n", models.UncategorizedID)
	b.WriteString("5. An unknown category sends the record to `" + models.UncategorizedID + "`; its sentiment is still kept.\n")
	b.WriteString("6. Entries missing either field are ignored.\n")
	return b.String()
}
