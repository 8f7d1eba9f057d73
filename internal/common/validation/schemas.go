package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

var (
	standardSchema         = mustCompile("standard submission", submissionSchema(KindStandard))
	legacySchema           = mustCompile("legacy submission", submissionSchema(KindLegacy))
	eventSchema            = mustCompile("event", eventDocument(false))
	eventUpdateSchema      = mustCompile("event update", eventDocument(true))
	collectiveSchema       = mustCompile("collective", collectiveDocument(false))
	collectiveUpdateSchema = mustCompile("collective update", collectiveDocument(true))
	subscriptionSchema     = mustCompile("subscription", object([]string{"email"}, map[string]interface{}{
		"email":     emailProp(),
		"firstName": str(),
		"lastName":  str(),
		"source":    str(),
	}))
	referralSchema = mustCompile("referral", object([]string{"referrerEmail", "referredEmail"}, map[string]interface{}{
		"referrerEmail": emailProp(),
		"referredEmail": emailProp(),
		"source":        str(),
	}))
	waitlistSchema = mustCompile("waitlist", object([]string{"email"}, map[string]interface{}{
		"email":    emailProp(),
		"name":     str(),
		"interest": str(),
	}))
)

// EventStatuses are the only status values an event may carry.
var EventStatuses = []string{"upcoming", "ongoing", "completed", "cancelled"}

func mustCompile(name string, doc map[string]interface{}) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("compile %s schema: %v", name, err))
	}
	return schema
}

func submissionSchema(kind string) map[string]interface{} {
	props := map[string]interface{}{
		"kind":        map[string]interface{}{"enum": []interface{}{kind}},
		"email":       emailProp(),
		"displayName": str(),
		"bio":         str(),
		"location":    str(),
		"referredBy": map[string]interface{}{
			"type":    "string",
			"pattern": "^$|" + EmailPattern,
		},
	}

	var required []string
	switch kind {
	case KindStandard:
		required = []string{"email", "links", "industry", "roles", "genres"}
		props["links"] = map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"website":   str(),
				"portfolio": str(),
				"instagram": str(),
				"linkedin":  str(),
				"other":     str(),
			},
			"anyOf": []interface{}{
				object([]string{"website"}, map[string]interface{}{"website": text()}),
				object([]string{"portfolio"}, map[string]interface{}{"portfolio": text()}),
			},
		}
		props["industry"] = text()
		props["roles"] = labels()
		props["genres"] = labels()
	case KindLegacy:
		required = []string{"email", "firstName", "lastName", "profession"}
		props["firstName"] = text()
		props["lastName"] = text()
		props["profession"] = text()
	}

	return object(required, props)
}

func eventDocument(partial bool) map[string]interface{} {
	props := map[string]interface{}{
		"title":       text(),
		"description": str(),
		"category":    str(),
		"tags":        stringArray(),
		"location":    str(),
		"startsAt":    timestamp(),
		"endsAt":      timestamp(),
		"createdBy":   str(),
		"attendees":   stringArray(),
		"status":      map[string]interface{}{"enum": toInterfaces(EventStatuses)},
	}
	if partial {
		return object(nil, props)
	}
	return object([]string{"title"}, props)
}

func collectiveDocument(partial bool) map[string]interface{} {
	props := map[string]interface{}{
		"name":        text(),
		"description": str(),
		"category":    str(),
		"tags":        stringArray(),
		"members":     stringArray(),
		"createdBy":   str(),
	}
	if partial {
		return object(nil, props)
	}
	return object([]string{"name"}, props)
}

func object(required []string, props map[string]interface{}) map[string]interface{} {
	doc := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = toInterfaces(required)
	}
	return doc
}

func str() map[string]interface{} {
	return map[string]interface{}{"type": "string"}
}

// text is a string with at least one non-whitespace character.
func text() map[string]interface{} {
	return map[string]interface{}{"type": "string", "pattern": nonBlank}
}

func emailProp() map[string]interface{} {
	return map[string]interface{}{"type": "string", "pattern": EmailPattern}
}

func timestamp() map[string]interface{} {
	return map[string]interface{}{"type": "string", "format": "date-time"}
}

func stringArray() map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": str()}
}

func labels() map[string]interface{} {
	return map[string]interface{}{"type": "array", "minItems": 1, "items": text()}
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
