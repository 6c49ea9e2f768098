package schema

// claimsDefinition is the feature layout of the production auto-insurance
// fraud model. The column order is the order the model was fitted on.
var claimsDefinition = Definition{
	Version: "claims-xgb-1",
	Numeric: []string{
		"months_as_customer", "age", "policy_deductable", "umbrella_limit",
		"incident_hour_of_the_day", "number_of_vehicles_involved",
		"bodily_injuries", "witnesses", "total_claim_amount",
	},
	Categorical: []GroupDef{
		{Field: "insured_sex", Reference: "FEMALE"},
		{Field: "insured_education_level", Reference: "Associate"},
		{Field: "insured_occupation", Reference: "adm-clerical"},
		{Field: "incident_type", Reference: "Multi-vehicle Collision"},
		{Field: "collision_type", Reference: "Front Collision"},
		{Field: "incident_severity", Reference: "Major Damage"},
		{Field: "authorities_contacted", Reference: "Ambulance"},
		{Field: "property_damage", Reference: "NO"},
		{Field: "police_report_available", Reference: "NO"},
	},
	Columns: []string{
		"months_as_customer", "age", "policy_deductable", "umbrella_limit",
		"incident_hour_of_the_day", "number_of_vehicles_involved",
		"bodily_injuries", "witnesses", "total_claim_amount",
		"insured_sex_MALE", "insured_education_level_College",
		"insured_education_level_High School", "insured_education_level_JD",
		"insured_education_level_MD", "insured_education_level_Masters",
		"insured_education_level_PhD", "insured_occupation_armed-forces",
		"insured_occupation_craft-repair", "insured_occupation_exec-managerial",
		"insured_occupation_farming-fishing", "insured_occupation_handlers-cleaners",
		"insured_occupation_machine-op-inspct", "insured_occupation_other-service",
		"insured_occupation_priv-house-serv", "insured_occupation_prof-specialty",
		"insured_occupation_protective-serv", "insured_occupation_sales",
		"insured_occupation_tech-support", "insured_occupation_transport-moving",
		"incident_type_Parked Car", "incident_type_Single Vehicle Collision",
		"incident_type_Vehicle Theft", "collision_type_Rear Collision",
		"collision_type_Side Collision", "incident_severity_Minor Damage",
		"incident_severity_Total Loss", "incident_severity_Trivial Damage",
		"authorities_contacted_Fire", "authorities_contacted_Other",
		"authorities_contacted_Police", "authorities_contacted_nan",
		"property_damage_YES", "police_report_available_YES",
	},
}

var claims = MustNew(claimsDefinition)

// Claims returns the built-in auto-insurance claims schema.
func Claims() *Schema { return claims }
