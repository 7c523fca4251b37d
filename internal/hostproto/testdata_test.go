package hostproto

// searchFixture is a trimmed capture of a search response with three threads.
// Thread A uses the numeral legacy field as a string, B as a JSON number, C the
// alternate hex field. The "9" keys are fields this package does not interpret.
const searchFixture = `{
  "1": {"2": "abc", "3": 3, "4": [
    {"1": "extra snippet A", "3": [], "4": ["<a1@x>"]},
    {"1": "extra snippet B", "3": [], "4": ["<b1@x>", "<b2@x>"]},
    {"1": "extra snippet C", "3": [], "4": ["<c1@x>"]}
  ]},
  "3": [
    {"1": {"1": "Subject A", "2": "snippet A", "4": "thread-f:1", "18": "1234567890123456789",
           "5": [{"1": "<a1@x>", "7": "1700000000300", "56": "aaa1",
                  "3": [{"2": "ann@example.com", "3": "Ann"}]}],
           "9": {"opaque": [1, 2, 3]}}, "2": 0},
    {"1": {"1": "Subject B", "2": "snippet B", "4": "thread-f:2", "18": 1600000000000000001,
           "5": [{"1": "<b1@x>", "7": "1700000000200"}, {"1": "<b2@x>", "7": 1700000000250}],
           "6": [{"1": "<b1@x>", "7": "1700000000200", "12": "full"}]}, "2": 1},
    {"1": {"1": "Subject C", "2": "snippet C", "4": "thread-f:3", "20": "c0ffee",
           "5": [{"1": "<c1@x>", "7": "1700000000100"}]}, "2": 2}
  ],
  "7": "unrelated"
}`
