package classifier

// extractionPrompt asks the model for one JSON object covering query
// classification, structured slots, and follow-up detection in a single call.
const extractionPrompt = `Analyze the user's property query and the recent conversation.

Recent conversation (may be empty):
%s

Current query: "%s"

Extract the following into ONE JSON object (use null for anything not stated):
1. "property_query": is this about property/real estate (true/false)?
2. "recommendation": is the user asking for property suggestions based on criteria (true/false)?
3. "property_type": condo, apartment, house, etc.
4. "location": area or neighborhood name
5. "price_min", "price_max": numbers (interpret "under X" as price_max)
6. "bedrooms", "bathrooms": numbers
7. "size_min", "size_max": floor size in square feet
8. "psf_min", "psf_max": price per square foot
9. "amenities": list of requested features
10. "target_property": a specific property name the user refers to, from the query or the conversation
11. "is_follow_up": does the query reference something discussed earlier (true/false)?

Return ONLY the JSON object and nothing else:
{"property_query": true, "recommendation": false, "property_type": null, "location": null, "price_min": null, "price_max": null, "bedrooms": null, "bathrooms": null, "size_min": null, "size_max": null, "psf_min": null, "psf_max": null, "amenities": [], "target_property": null, "is_follow_up": false}`
