/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package mongodb

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/globalsign/mgo/bson"
	"github.com/pkg/errors"

	"github.com/Robert-Freire/epcis/app/epcis"
	"github.com/Robert-Freire/epcis/app/storage"
	"github.com/Robert-Freire/epcis/pkg/web"
)

// scalarBsonKeys maps predicate field names to the event document keys.
var scalarBsonKeys = map[string]string{
	storage.FieldEventID:          "eventId",
	storage.FieldAction:           "action",
	storage.FieldBizStep:          "bizStep",
	storage.FieldDisposition:      "disposition",
	storage.FieldReadPoint:        "readPoint",
	storage.FieldBizLocation:      "bizLocation",
	storage.FieldTransformationID: "transformationId",
}

var sensorBsonKeys = map[string]string{
	"type": "reportType", "deviceID": "deviceId", "deviceMetadata": "deviceMetadata",
	"rawData": "rawData", "dataProcessingMethod": "dataProcessingMethod",
	"time": "time", "microorganism": "microorganism", "chemicalSubstance": "chemicalSubstance",
	"value": "value", "stringValue": "stringValue", "booleanValue": "booleanValue",
	"hexBinaryValue": "hexBinaryValue", "uriValue": "uriValue",
	"minValue": "minValue", "maxValue": "maxValue", "meanValue": "meanValue",
	"sDev": "sDev", "percRank": "percRank", "percValue": "percValue",
	"uom": "uom", "coordinateReferenceSystem": "coordinateReferenceSystem",
}

var comparatorBson = map[storage.Comparator]string{
	storage.CmpEQ: "$eq",
	storage.CmpGT: "$gt",
	storage.CmpGE: "$gte",
	storage.CmpLT: "$lt",
	storage.CmpLE: "$lte",
}

// buildSelector composes the filter chain as one $and selector.
func buildSelector(filters storage.Filters) (bson.M, error) {
	var clauses []bson.M

	if !filters.AllTenants {
		clauses = append(clauses, bson.M{"tenantId": filters.TenantID})
	}

	for _, predicate := range filters.Predicates {
		clause, err := translatePredicate(predicate)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}

	switch len(clauses) {
	case 0:
		return bson.M{}, nil
	case 1:
		return clauses[0], nil
	}
	return bson.M{"$and": clauses}, nil
}

func translatePredicate(predicate storage.Predicate) (bson.M, error) {
	switch p := predicate.(type) {

	case storage.EventTypeIn:
		return bson.M{"eventType": bson.M{"$in": p.Types}}, nil

	case storage.ScalarIn:
		key, ok := scalarBsonKeys[p.Field]
		if !ok {
			return nil, errors.Wrapf(web.ErrInvalidInput, "no equality over field %q", p.Field)
		}
		return bson.M{key: bson.M{"$in": p.Values}}, nil

	case storage.ScalarCmp:
		if p.Value.Time == nil {
			return nil, errors.Wrapf(web.ErrInvalidInput, "bad comparison over field %q", p.Field)
		}
		key := "eventTime"
		if p.Field == storage.FieldRecordTime {
			key = "recordTime"
		}
		return bson.M{key: bson.M{comparatorBson[p.Cmp]: p.Value.Time.UTC()}}, nil

	case storage.ScalarExists:
		key, ok := scalarBsonKeys[p.Field]
		if !ok {
			return nil, errors.Wrapf(web.ErrInvalidInput, "no existence check over field %q", p.Field)
		}
		return bson.M{key: bson.M{"$exists": true, "$nin": []interface{}{"", nil}}}, nil

	case storage.EpcMatch:
		var idClauses []bson.M
		for _, pattern := range p.Patterns {
			idClauses = append(idClauses, bson.M{"id": patternSelector(pattern)})
		}
		if len(idClauses) == 0 {
			return impossible(), nil
		}
		types := make([]string, 0, len(p.Types))
		for _, epcType := range p.Types {
			types = append(types, string(epcType))
		}
		return bson.M{"epcs": bson.M{"$elemMatch": bson.M{
			"type": bson.M{"$in": types},
			"$or":  idClauses,
		}}}, nil

	case storage.LocationIn:
		if len(p.IDs) == 0 {
			return impossible(), nil
		}
		return bson.M{scalarBsonKeys[p.Field]: bson.M{"$in": p.IDs}}, nil

	case storage.FieldIn:
		match := fieldMatch(p.Types, p.Namespace, p.Name)
		match["textValue"] = bson.M{"$in": p.Values}
		return bson.M{"fields": bson.M{"$elemMatch": match}}, nil

	case storage.FieldCmp:
		match := fieldMatch(p.Types, p.Namespace, p.Name)
		switch {
		case p.Value.Num != nil:
			match["numericValue"] = bson.M{comparatorBson[p.Cmp]: *p.Value.Num}
		case p.Value.Time != nil:
			match["dateValue"] = bson.M{comparatorBson[p.Cmp]: p.Value.Time.UTC()}
		default:
			return nil, errors.Wrap(web.ErrInvalidInput, "field comparison requires a numeric or date literal")
		}
		return bson.M{"fields": bson.M{"$elemMatch": match}}, nil

	case storage.FieldExists:
		return bson.M{"fields": bson.M{"$elemMatch": fieldMatch(p.Types, p.Namespace, p.Name)}}, nil

	case storage.SensorMatch:
		match := bson.M{}
		for _, cond := range p.Conds {
			key, ok := sensorBsonKeys[cond.Attr]
			if !ok {
				return nil, errors.Wrapf(web.ErrInvalidInput, "unknown sensor attribute %q", cond.Attr)
			}
			switch {
			case len(cond.Values) > 0 && key == "booleanValue":
				// stored as a bson boolean, so the literals compare as booleans
				flags := make([]bool, 0, len(cond.Values))
				for _, value := range cond.Values {
					if flag, err := strconv.ParseBool(value); err == nil {
						flags = append(flags, flag)
					}
				}
				match[key] = bson.M{"$in": flags}
			case len(cond.Values) > 0:
				match[key] = bson.M{"$in": cond.Values}
			case cond.Value.Num != nil:
				match[key] = mergeCondition(match[key], comparatorBson[cond.Cmp], *cond.Value.Num)
			case cond.Value.Time != nil:
				match[key] = mergeCondition(match[key], comparatorBson[cond.Cmp], cond.Value.Time.UTC())
			case cond.Value.Str != nil:
				match[key] = mergeCondition(match[key], comparatorBson[cond.Cmp], *cond.Value.Str)
			}
		}
		return bson.M{"sensorReports": bson.M{"$elemMatch": match}}, nil

	case storage.PageAfter:
		key := "eventTime"
		if p.Order.Key == storage.FieldRecordTime {
			key = "recordTime"
		}
		operator := "$gt"
		if p.Order.Descending {
			operator = "$lt"
		}
		return bson.M{"$or": []bson.M{
			{key: bson.M{operator: p.Time.UTC()}},
			{key: p.Time.UTC(), "id": bson.M{operator: p.ID}},
		}}, nil
	}

	return nil, errors.Wrap(web.ErrInvalidInput, "unknown predicate variant")
}

func fieldMatch(types []epcis.FieldType, namespace, name string) bson.M {
	typeNames := make([]string, 0, len(types))
	for _, fieldType := range types {
		typeNames = append(typeNames, string(fieldType))
	}
	match := bson.M{
		"type": bson.M{"$in": typeNames},
		"name": name,
	}
	if namespace != "" {
		match["namespace"] = namespace
	}
	return match
}

func impossible() bson.M {
	return bson.M{"id": bson.M{"$in": []int64{}}}
}

// mergeCondition lets two comparators land on the same report attribute
// (GE_value plus LT_value) inside one $elemMatch.
func mergeCondition(existing interface{}, operator string, value interface{}) bson.M {
	if condition, ok := existing.(bson.M); ok {
		condition[operator] = value
		return condition
	}
	return bson.M{operator: value}
}

// patternSelector renders one MATCH_ pattern: trailing * anchors a
// prefix regex, anything else compares exactly.
func patternSelector(pattern string) interface{} {
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return bson.M{"$regex": bson.RegEx{Pattern: "^" + regexp.QuoteMeta(prefix)}}
	}
	return pattern
}
