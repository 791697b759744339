/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// scalarJSONKeys maps predicate field names to the json keys inside the
// events data column. eventType/eventTime/recordTime live in their own
// columns instead.
var scalarJSONKeys = map[string]string{
	storage.FieldEventID:          "eventId",
	storage.FieldAction:           "action",
	storage.FieldBizStep:          "bizStep",
	storage.FieldDisposition:      "disposition",
	storage.FieldReadPoint:        "readPoint",
	storage.FieldBizLocation:      "bizLocation",
	storage.FieldTransformationID: "transformationId",
}

// sensorJSONKeys maps sensor predicate attributes to report json keys.
var sensorJSONKeys = map[string]string{
	"type": "reportType", "deviceID": "deviceId", "deviceMetadata": "deviceMetadata",
	"rawData": "rawData", "dataProcessingMethod": "dataProcessingMethod",
	"time": "time", "microorganism": "microorganism", "chemicalSubstance": "chemicalSubstance",
	"value": "value", "stringValue": "stringValue", "booleanValue": "booleanValue",
	"hexBinaryValue": "hexBinaryValue", "uriValue": "uriValue",
	"minValue": "minValue", "maxValue": "maxValue", "meanValue": "meanValue",
	"sDev": "sDev", "percRank": "percRank", "percValue": "percValue",
	"uom": "uom", "coordinateReferenceSystem": "coordinateReferenceSystem",
}

var comparatorSQL = map[storage.Comparator]string{
	storage.CmpEQ: "=",
	storage.CmpGT: ">",
	storage.CmpGE: ">=",
	storage.CmpLT: "<",
	storage.CmpLE: "<=",
}

// sqlBuilder accumulates AND-composed conditions with positional args.
type sqlBuilder struct {
	conds []string
	args  []interface{}
}

// arg registers a value and returns its placeholder.
func (builder *sqlBuilder) arg(value interface{}) string {
	builder.args = append(builder.args, value)
	return fmt.Sprintf("$%d", len(builder.args))
}

func (builder *sqlBuilder) where(condition string) {
	builder.conds = append(builder.conds, condition)
}

// buildIDSelect renders the phase-1 statement: primary keys only, filter
// chain AND-composed, order plus stable id tie-break, bounded.
func buildIDSelect(filters storage.Filters) (string, []interface{}, error) {
	builder := &sqlBuilder{}

	if !filters.AllTenants {
		builder.where("tenant_id = " + builder.arg(filters.TenantID))
	}

	for _, predicate := range filters.Predicates {
		if err := translatePredicate(builder, predicate); err != nil {
			return "", nil, err
		}
	}

	orderColumn := "event_time"
	if filters.Order.Key == storage.FieldRecordTime {
		orderColumn = "record_time"
	}
	direction := "ASC"
	if filters.Order.Descending {
		direction = "DESC"
	}

	var statement strings.Builder
	statement.WriteString("SELECT id FROM events")
	if len(builder.conds) > 0 {
		statement.WriteString(" WHERE ")
		statement.WriteString(strings.Join(builder.conds, " AND "))
	}
	fmt.Fprintf(&statement, " ORDER BY %s %s, id %s", orderColumn, direction, direction)
	if filters.Limit.Count > 0 {
		fmt.Fprintf(&statement, " LIMIT %d", filters.Limit.Count)
	}
	if filters.Limit.Offset > 0 {
		fmt.Fprintf(&statement, " OFFSET %d", filters.Limit.Offset)
	}

	return statement.String(), builder.args, nil
}

func translatePredicate(builder *sqlBuilder, predicate storage.Predicate) error {
	switch p := predicate.(type) {

	case storage.EventTypeIn:
		builder.where("event_type = ANY(" + builder.arg(pq.Array(p.Types)) + ")")

	case storage.ScalarIn:
		key, ok := scalarJSONKeys[p.Field]
		if !ok {
			return errors.Wrapf(web.ErrInvalidInput, "no equality over field %q", p.Field)
		}
		builder.where("data->>'" + key + "' = ANY(" + builder.arg(pq.Array(p.Values)) + ")")

	case storage.ScalarCmp:
		operator, ok := comparatorSQL[p.Cmp]
		if !ok || p.Value.Time == nil {
			return errors.Wrapf(web.ErrInvalidInput, "bad comparison over field %q", p.Field)
		}
		column := "event_time"
		if p.Field == storage.FieldRecordTime {
			column = "record_time"
		}
		builder.where(column + " " + operator + " " + builder.arg(*p.Value.Time))

	case storage.ScalarExists:
		key, ok := scalarJSONKeys[p.Field]
		if !ok {
			return errors.Wrapf(web.ErrInvalidInput, "no existence check over field %q", p.Field)
		}
		builder.where("COALESCE(data->>'" + key + "', '') <> ''")

	case storage.EpcMatch:
		if len(p.Patterns) == 0 {
			builder.where("FALSE")
			return nil
		}
		types := make([]string, 0, len(p.Types))
		for _, epcType := range p.Types {
			types = append(types, string(epcType))
		}
		typesArg := builder.arg(pq.Array(types))
		patterns := make([]string, 0, len(p.Patterns))
		for _, pattern := range p.Patterns {
			patterns = append(patterns, patternCondition(builder, pattern))
		}
		builder.where(fmt.Sprintf(
			`EXISTS (SELECT 1 FROM jsonb_array_elements(COALESCE(data->'epcs', '[]'::jsonb)) AS epc
			 WHERE epc->>'type' = ANY(%s) AND (%s))`,
			typesArg, strings.Join(patterns, " OR ")))

	case storage.LocationIn:
		key := scalarJSONKeys[p.Field]
		if len(p.IDs) == 0 {
			builder.where("FALSE")
			return nil
		}
		builder.where("data->>'" + key + "' = ANY(" + builder.arg(pq.Array(p.IDs)) + ")")

	case storage.FieldIn:
		builder.where(fieldExistsSQL(builder, p.Types, p.Namespace, p.Name,
			"f->>'textValue' = ANY("+builder.arg(pq.Array(p.Values))+")"))

	case storage.FieldCmp:
		operator := comparatorSQL[p.Cmp]
		var condition string
		switch {
		case p.Value.Num != nil:
			condition = "f->>'numericValue' IS NOT NULL AND (f->>'numericValue')::float8 " + operator + " " + builder.arg(*p.Value.Num)
		case p.Value.Time != nil:
			condition = "f->>'dateValue' IS NOT NULL AND (f->>'dateValue')::timestamptz " + operator + " " + builder.arg(*p.Value.Time)
		default:
			return errors.Wrap(web.ErrInvalidInput, "field comparison requires a numeric or date literal")
		}
		builder.where(fieldExistsSQL(builder, p.Types, p.Namespace, p.Name, condition))

	case storage.FieldExists:
		builder.where(fieldExistsSQL(builder, p.Types, p.Namespace, p.Name, "TRUE"))

	case storage.SensorMatch:
		conditions := make([]string, 0, len(p.Conds))
		for _, cond := range p.Conds {
			rendered, err := sensorConditionSQL(builder, cond)
			if err != nil {
				return err
			}
			conditions = append(conditions, rendered)
		}
		builder.where(fmt.Sprintf(
			`EXISTS (SELECT 1 FROM jsonb_array_elements(COALESCE(data->'sensorReports', '[]'::jsonb)) AS r
			 WHERE %s)`, strings.Join(conditions, " AND ")))

	case storage.PageAfter:
		column := "event_time"
		if p.Order.Key == storage.FieldRecordTime {
			column = "record_time"
		}
		operator := ">"
		if p.Order.Descending {
			operator = "<"
		}
		builder.where(fmt.Sprintf("(%s, id) %s (%s, %s)",
			column, operator, builder.arg(p.Time), builder.arg(p.ID)))

	default:
		return errors.Wrap(web.ErrInvalidInput, "unknown predicate variant")
	}
	return nil
}

func fieldExistsSQL(builder *sqlBuilder, types []epcis.FieldType, namespace, name, condition string) string {
	typeNames := make([]string, 0, len(types))
	for _, fieldType := range types {
		typeNames = append(typeNames, string(fieldType))
	}

	namespaceCond := "TRUE"
	if namespace != "" {
		namespaceCond = "f->>'namespace' = " + builder.arg(namespace)
	}

	return fmt.Sprintf(
		`EXISTS (SELECT 1 FROM jsonb_array_elements(COALESCE(data->'fields', '[]'::jsonb)) AS f
		 WHERE f->>'type' = ANY(%s) AND %s AND f->>'name' = %s AND %s)`,
		builder.arg(pq.Array(typeNames)), namespaceCond, builder.arg(name), condition)
}

func sensorConditionSQL(builder *sqlBuilder, cond storage.SensorCond) (string, error) {
	key, ok := sensorJSONKeys[cond.Attr]
	if !ok {
		return "", errors.Wrapf(web.ErrInvalidInput, "unknown sensor attribute %q", cond.Attr)
	}
	operator := comparatorSQL[cond.Cmp]

	switch {
	case len(cond.Values) > 0:
		return "r->>'" + key + "' = ANY(" + builder.arg(pq.Array(cond.Values)) + ")", nil
	case cond.Value.Num != nil:
		return "r->>'" + key + "' IS NOT NULL AND (r->>'" + key + "')::float8 " + operator + " " + builder.arg(*cond.Value.Num), nil
	case cond.Value.Time != nil:
		return "r->>'" + key + "' IS NOT NULL AND (r->>'" + key + "')::timestamptz " + operator + " " + builder.arg(*cond.Value.Time), nil
	case cond.Value.Str != nil:
		return "r->>'" + key + "' " + operator + " " + builder.arg(*cond.Value.Str), nil
	}
	return "", errors.Wrap(web.ErrInvalidInput, "sensor condition carries no literal")
}

// patternCondition renders one MATCH_ pattern: a trailing * becomes a
// LIKE prefix with the LIKE metacharacters escaped, anything else an
// exact comparison.
func patternCondition(builder *sqlBuilder, pattern string) string {
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
		return "epc->>'id' LIKE " + builder.arg(escaped+"%")
	}
	return "epc->>'id' = " + builder.arg(pattern)
}
