// Package supervision turns entity status transitions into tag changes.
//
// Cascader writes an entity's own fault and state tags. Aggregator folds
// the transition into the supervision quality flag of every tag that
// declares the entity as an ancestor. The two are independent: a cascade
// failure does not prevent aggregation and neither spans more than one
// tag lock at a time.
package supervision
